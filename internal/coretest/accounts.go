package coretest

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/authrecipes/recipe"
)

func (s *Server) handleCreateEVToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.verified[verifiedKey(body.UserID, body.Email)] {
		writeJSON(w, status("EMAIL_ALREADY_VERIFIED_ERROR"))
		return
	}
	tok := s.issueToken(tokenTypeEmailVerification, tenantOf(r), body.UserID, body.Email, tokenExpiryEmailVerification)
	writeJSON(w, map[string]any{"status": "OK", "token": tok})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Method string `json:"method"`
		Token  string `json:"token"`
	}
	if err := decode(r, &body); err != nil || body.Method != "token" {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.tokens[body.Token]
	if tok == nil || !tok.isValid(tokenTypeEmailVerification, tenantOf(r), s.Now()) {
		writeJSON(w, status("EMAIL_VERIFICATION_INVALID_TOKEN_ERROR"))
		return
	}
	s.verified[verifiedKey(tok.recipeUserID, tok.email)] = true
	s.revokeTokens(tokenTypeEmailVerification, tok.recipeUserID, tok.email)
	writeJSON(w, map[string]any{"status": "OK", "userId": tok.recipeUserID, "email": tok.email})
}

func (s *Server) handleIsEmailVerified(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	writeJSON(w, map[string]any{
		"status":     "OK",
		"isVerified": s.verified[verifiedKey(q.Get("userId"), q.Get("email"))],
	})
}

func (s *Server) handleRevokeEVTokens(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeTokens(tokenTypeEmailVerification, body.UserID, body.Email)
	writeJSON(w, status("OK"))
}

func (s *Server) handleUnverifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verified, verifiedKey(body.UserID, body.Email))
	writeJSON(w, status("OK"))
}

// emailPasswordLogin must be called with s.mu held.
func (s *Server) emailPasswordLogin(tenantID, email string) *loginMethod {
	for _, lm := range s.loginMethods {
		if lm.recipeID == recipe.IDEmailPassword && lm.inTenant(tenantID) &&
			recipe.NormaliseEmail(lm.email) == recipe.NormaliseEmail(email) {
			return lm
		}
	}
	return nil
}

func (s *Server) handleEmailPasswordSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	if s.emailPasswordLogin(tenantID, body.Email) != nil {
		writeJSON(w, status("EMAIL_ALREADY_EXISTS_ERROR"))
		return
	}
	lm := s.newLoginMethod(recipe.IDEmailPassword, tenantID)
	lm.email = body.Email
	lm.passwordHash = hashSecret(body.Password)
	writeJSON(w, map[string]any{
		"status":       "OK",
		"user":         s.buildUser(lm.recipeUserID),
		"recipeUserId": lm.recipeUserID,
	})
}

func (s *Server) handleEmailPasswordSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lm := s.emailPasswordLogin(tenantOf(r), body.Email)
	if lm == nil || bcrypt.CompareHashAndPassword(lm.passwordHash, []byte(body.Password)) != nil {
		writeJSON(w, status("WRONG_CREDENTIALS_ERROR"))
		return
	}
	writeJSON(w, map[string]any{
		"status":       "OK",
		"user":         s.buildUser(s.userIDOf(lm.recipeUserID)),
		"recipeUserId": lm.recipeUserID,
	})
}

func (s *Server) handleCreateResetToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lm := s.loginMethods[body.UserID]
	if lm == nil || lm.recipeID != recipe.IDEmailPassword {
		writeJSON(w, status("UNKNOWN_USER_ID_ERROR"))
		return
	}
	tok := s.issueToken(tokenTypePasswordReset, tenantOf(r), body.UserID, body.Email, tokenExpiryPasswordReset)
	writeJSON(w, map[string]any{"status": "OK", "token": tok})
}

func (s *Server) handleConsumeResetToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Method string `json:"method"`
		Token  string `json:"token"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.tokens[body.Token]
	if tok == nil || !tok.isValid(tokenTypePasswordReset, tenantOf(r), s.Now()) {
		writeJSON(w, status("RESET_PASSWORD_INVALID_TOKEN_ERROR"))
		return
	}
	delete(s.tokens, body.Token)
	writeJSON(w, map[string]any{"status": "OK", "userId": tok.recipeUserID, "email": tok.email})
}

func (s *Server) handleThirdPartySignInUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ThirdPartyID     string `json:"thirdPartyId"`
		ThirdPartyUserID string `json:"thirdPartyUserId"`
		Email            struct {
			ID         string `json:"id"`
			IsVerified bool   `json:"isVerified"`
		} `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	var lm *loginMethod
	for _, candidate := range s.loginMethods {
		if candidate.recipeID == recipe.IDThirdParty && candidate.inTenant(tenantID) &&
			candidate.thirdParty.ID == body.ThirdPartyID && candidate.thirdParty.UserID == body.ThirdPartyUserID {
			lm = candidate
			break
		}
	}

	created := lm == nil
	if created {
		lm = s.newLoginMethod(recipe.IDThirdParty, tenantID)
		lm.thirdParty = &recipe.ThirdPartyInfo{ID: body.ThirdPartyID, UserID: body.ThirdPartyUserID}
		lm.email = body.Email.ID
	} else if recipe.NormaliseEmail(lm.email) != recipe.NormaliseEmail(body.Email.ID) {
		uid := s.userIDOf(lm.recipeUserID)
		probe := &loginMethod{email: body.Email.ID, tenantIDs: lm.tenantIDs, recipeUserID: lm.recipeUserID}
		if s.primaries[uid] && s.conflictingPrimary(probe, uid) != "" {
			writeJSON(w, map[string]any{
				"status": "EMAIL_CHANGE_NOT_ALLOWED_ERROR",
				"reason": "Email already associated with another primary user.",
			})
			return
		}
		lm.email = body.Email.ID
	}

	writeJSON(w, map[string]any{
		"status":         "OK",
		"createdNewUser": created,
		"user":           s.buildUser(s.userIDOf(lm.recipeUserID)),
		"recipeUserId":   lm.recipeUserID,
	})
}
