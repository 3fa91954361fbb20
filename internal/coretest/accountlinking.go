package coretest

import (
	"net/http"

	"github.com/gorilla/mux"
)

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// canCreatePrimary must be called with s.mu held.
func (s *Server) canCreatePrimary(recipeUserID string) map[string]any {
	lm := s.loginMethods[recipeUserID]
	if lm == nil {
		return status("UNKNOWN_USER_ID_ERROR")
	}
	uid := s.userIDOf(recipeUserID)
	if s.primaries[uid] {
		if uid == recipeUserID {
			return map[string]any{"status": "OK", "wasAlreadyAPrimaryUser": true}
		}
		return map[string]any{
			"status":        "RECIPE_USER_ID_ALREADY_LINKED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR",
			"primaryUserId": uid,
			"description":   "Recipe user is already linked with another primary user id",
		}
	}
	if other := s.conflictingPrimary(lm, ""); other != "" {
		return map[string]any{
			"status":        "ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR",
			"primaryUserId": other,
			"description":   "This user's email is already associated with another user ID",
		}
	}
	return map[string]any{"status": "OK", "wasAlreadyAPrimaryUser": false}
}

func (s *Server) handleCanCreatePrimary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, s.canCreatePrimary(r.URL.Query().Get("recipeUserId")))
}

func (s *Server) handleCreatePrimary(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipeUserID string `json:"recipeUserId"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := s.canCreatePrimary(body.RecipeUserID)
	if resp["status"] != "OK" {
		writeJSON(w, resp)
		return
	}
	s.primaries[body.RecipeUserID] = true
	s.primaryOf[body.RecipeUserID] = body.RecipeUserID
	resp["user"] = s.buildUser(body.RecipeUserID)
	writeJSON(w, resp)
}

// canLink must be called with s.mu held.
func (s *Server) canLink(recipeUserID, primaryUserID string) map[string]any {
	lm := s.loginMethods[recipeUserID]
	if lm == nil {
		return status("UNKNOWN_USER_ID_ERROR")
	}
	if !s.primaries[primaryUserID] {
		return map[string]any{
			"status":      "INPUT_USER_IS_NOT_A_PRIMARY_USER",
			"description": "The input primary user id is not a primary user",
		}
	}
	uid := s.userIDOf(recipeUserID)
	if uid == primaryUserID {
		return map[string]any{"status": "OK", "accountsAlreadyLinked": true}
	}
	if s.primaries[uid] {
		return map[string]any{
			"status":        "RECIPE_USER_ID_ALREADY_LINKED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR",
			"primaryUserId": uid,
			"description":   "The input recipe user ID is already linked to another user ID",
		}
	}
	if other := s.conflictingPrimary(lm, primaryUserID); other != "" {
		return map[string]any{
			"status":        "ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR",
			"primaryUserId": other,
			"description":   "This user's email is already associated with another user ID",
		}
	}
	return map[string]any{"status": "OK", "accountsAlreadyLinked": false}
}

func (s *Server) handleCanLink(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := r.URL.Query()
	writeJSON(w, s.canLink(q.Get("recipeUserId"), q.Get("primaryUserId")))
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipeUserID  string `json:"recipeUserId"`
		PrimaryUserID string `json:"primaryUserId"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := s.canLink(body.RecipeUserID, body.PrimaryUserID)
	switch resp["status"] {
	case "OK":
		s.primaryOf[body.RecipeUserID] = body.PrimaryUserID
		resp["user"] = s.buildUser(body.PrimaryUserID)
	case "RECIPE_USER_ID_ALREADY_LINKED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR":
		resp["user"] = s.buildUser(s.userIDOf(body.RecipeUserID))
	}
	writeJSON(w, resp)
}
