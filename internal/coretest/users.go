package coretest

import (
	"net/http"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/panyam/authrecipes/recipe"
)

type loginMethod struct {
	recipeID     string
	recipeUserID string
	tenantIDs    []string
	email        string
	phone        string
	thirdParty   *recipe.ThirdPartyInfo
	timeJoined   int64
	passwordHash []byte
}

func (lm *loginMethod) inTenant(tenantID string) bool {
	for _, t := range lm.tenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}

func (lm *loginMethod) sharesTenant(other *loginMethod) bool {
	for _, t := range lm.tenantIDs {
		if other.inTenant(t) {
			return true
		}
	}
	return false
}

func (lm *loginMethod) sameIdentity(other *loginMethod) bool {
	if lm.email != "" && recipe.NormaliseEmail(lm.email) == recipe.NormaliseEmail(other.email) {
		return true
	}
	if lm.phone != "" && lm.phone == other.phone {
		return true
	}
	if lm.thirdParty != nil && other.thirdParty != nil &&
		lm.thirdParty.ID == other.thirdParty.ID && lm.thirdParty.UserID == other.thirdParty.UserID {
		return true
	}
	return false
}

// newLoginMethod must be called with s.mu held.
func (s *Server) newLoginMethod(recipeID, tenantID string) *loginMethod {
	lm := &loginMethod{
		recipeID:     recipeID,
		recipeUserID: ulid.Make().String(),
		tenantIDs:    []string{tenantID},
		timeJoined:   s.nowMillis(),
	}
	s.loginMethods[lm.recipeUserID] = lm
	return lm
}

func (s *Server) userIDOf(recipeUserID string) string {
	if p, ok := s.primaryOf[recipeUserID]; ok {
		return p
	}
	return recipeUserID
}

func verifiedKey(recipeUserID, email string) string {
	return recipeUserID + "|" + recipe.NormaliseEmail(email)
}

// buildUser must be called with s.mu held.
func (s *Server) buildUser(userID string) *recipe.User {
	var lms []*loginMethod
	for _, lm := range s.loginMethods {
		if s.userIDOf(lm.recipeUserID) == userID {
			lms = append(lms, lm)
		}
	}
	if len(lms) == 0 {
		return nil
	}
	sort.Slice(lms, func(i, j int) bool {
		if lms[i].timeJoined != lms[j].timeJoined {
			return lms[i].timeJoined < lms[j].timeJoined
		}
		return lms[i].recipeUserID < lms[j].recipeUserID
	})

	u := &recipe.User{
		ID:            userID,
		IsPrimaryUser: s.primaries[userID],
		TimeJoined:    lms[0].timeJoined,
		TenantIDs:     []string{},
		Emails:        []string{},
		PhoneNumbers:  []string{},
		ThirdParty:    []recipe.ThirdPartyInfo{},
	}
	seen := map[string]bool{}
	add := func(list *[]string, kind, v string) {
		if v == "" || seen[kind+v] {
			return
		}
		seen[kind+v] = true
		*list = append(*list, v)
	}
	for _, lm := range lms {
		for _, t := range lm.tenantIDs {
			add(&u.TenantIDs, "t", t)
		}
		add(&u.Emails, "e", lm.email)
		add(&u.PhoneNumbers, "p", lm.phone)
		if lm.thirdParty != nil && !seen["tp"+lm.thirdParty.ID+lm.thirdParty.UserID] {
			seen["tp"+lm.thirdParty.ID+lm.thirdParty.UserID] = true
			u.ThirdParty = append(u.ThirdParty, *lm.thirdParty)
		}
		u.LoginMethods = append(u.LoginMethods, recipe.LoginMethod{
			RecipeID:     lm.recipeID,
			RecipeUserID: recipe.RecipeUserID(lm.recipeUserID),
			TenantIDs:    append([]string(nil), lm.tenantIDs...),
			Email:        lm.email,
			PhoneNumber:  lm.phone,
			ThirdParty:   lm.thirdParty,
			Verified:     lm.email != "" && s.verified[verifiedKey(lm.recipeUserID, lm.email)],
			TimeJoined:   lm.timeJoined,
		})
	}
	return u
}

// conflictingPrimary returns a primary user, other than the one lm belongs to
// and other than except, that shares an identifier with lm. Must be called
// with s.mu held.
func (s *Server) conflictingPrimary(lm *loginMethod, except string) string {
	own := s.userIDOf(lm.recipeUserID)
	for _, other := range s.loginMethods {
		uid := s.userIDOf(other.recipeUserID)
		if uid == own || uid == except || !s.primaries[uid] {
			continue
		}
		if other.sharesTenant(lm) && lm.sameIdentity(other) {
			return uid
		}
	}
	return ""
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.URL.Query().Get("userId")
	u := s.buildUser(s.userIDOf(id))
	if u == nil {
		writeJSON(w, status("UNKNOWN_USER_ID_ERROR"))
		return
	}
	writeJSON(w, map[string]any{"status": "OK", "user": u})
}

func (s *Server) handleListUsersByAccountInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	q := r.URL.Query()
	probe := &loginMethod{email: q.Get("email"), phone: q.Get("phoneNumber")}
	if q.Get("thirdPartyId") != "" {
		probe.thirdParty = &recipe.ThirdPartyInfo{ID: q.Get("thirdPartyId"), UserID: q.Get("thirdPartyUserId")}
	}
	union := q.Get("doUnionOfAccountInfo") == "true"

	seen := map[string]bool{}
	users := []*recipe.User{}
	for _, lm := range s.loginMethods {
		if !lm.inTenant(tenantID) || !matchesProbe(lm, probe, union) {
			continue
		}
		uid := s.userIDOf(lm.recipeUserID)
		if seen[uid] {
			continue
		}
		seen[uid] = true
		users = append(users, s.buildUser(uid))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].TimeJoined < users[j].TimeJoined })
	writeJSON(w, map[string]any{"status": "OK", "users": users})
}

func matchesProbe(lm, probe *loginMethod, union bool) bool {
	var checks []bool
	if probe.email != "" {
		checks = append(checks, recipe.NormaliseEmail(lm.email) == recipe.NormaliseEmail(probe.email))
	}
	if probe.phone != "" {
		checks = append(checks, lm.phone == probe.phone)
	}
	if probe.thirdParty != nil {
		checks = append(checks, lm.thirdParty != nil &&
			lm.thirdParty.ID == probe.thirdParty.ID && lm.thirdParty.UserID == probe.thirdParty.UserID)
	}
	if len(checks) == 0 {
		return false
	}
	for _, ok := range checks {
		if union && ok {
			return true
		}
		if !union && !ok {
			return false
		}
	}
	return !union
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := body["recipeUserId"].(string)
	lm := s.loginMethods[id]
	if lm == nil {
		writeJSON(w, status("UNKNOWN_USER_ID_ERROR"))
		return
	}

	email, hasEmail := body["email"]
	phone, hasPhone := body["phoneNumber"]
	newEmail, newPhone := lm.email, lm.phone
	if hasEmail {
		newEmail, _ = email.(string)
	}
	if hasPhone {
		newPhone, _ = phone.(string)
	}
	if lm.recipeID == recipe.IDPasswordless && newEmail == "" && newPhone == "" {
		badRequest(w, "You cannot clear both email and phone number of a user")
		return
	}

	for _, other := range s.loginMethods {
		if other == lm || other.recipeID != lm.recipeID || !other.sharesTenant(lm) {
			continue
		}
		if hasEmail && newEmail != "" && recipe.NormaliseEmail(other.email) == recipe.NormaliseEmail(newEmail) {
			writeJSON(w, status("EMAIL_ALREADY_EXISTS_ERROR"))
			return
		}
		if hasPhone && newPhone != "" && other.phone == newPhone {
			writeJSON(w, status("PHONE_NUMBER_ALREADY_EXISTS_ERROR"))
			return
		}
	}

	if uid := s.userIDOf(lm.recipeUserID); s.primaries[uid] && hasEmail && newEmail != "" {
		probe := &loginMethod{email: newEmail, tenantIDs: lm.tenantIDs, recipeUserID: lm.recipeUserID}
		if s.conflictingPrimary(probe, uid) != "" {
			writeJSON(w, map[string]any{
				"status": "EMAIL_CHANGE_NOT_ALLOWED_ERROR",
				"reason": "New email is associated with another primary user ID",
			})
			return
		}
	}

	lm.email, lm.phone = newEmail, newPhone
	if pw, ok := body["password"].(string); ok {
		lm.passwordHash = hashSecret(pw)
	}
	writeJSON(w, status("OK"))
}

// Tenant is a tenant known to the fake core.
type Tenant struct {
	TenantID                 string
	FirstFactors             []string
	RequiredSecondaryFactors []string
	ThirdPartyProviders      []map[string]any
}

// AddTenant registers or replaces a tenant.
func (s *Server) AddTenant(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.TenantID] = &t
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenants[tenantOf(r)]
	if t == nil {
		writeJSON(w, status("TENANT_NOT_FOUND_ERROR"))
		return
	}
	providers := t.ThirdPartyProviders
	if providers == nil {
		providers = []map[string]any{}
	}
	resp := map[string]any{
		"status":   "OK",
		"tenantId": t.TenantID,
		"thirdParty": map[string]any{
			"providers": providers,
		},
	}
	if t.FirstFactors != nil {
		resp["firstFactors"] = t.FirstFactors
	}
	if t.RequiredSecondaryFactors != nil {
		resp["requiredSecondaryFactors"] = t.RequiredSecondaryFactors
	}
	writeJSON(w, resp)
}

func (s *Server) handleAssociateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipeUserID string `json:"recipeUserId"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := tenantOf(r)
	if s.tenants[tenantID] == nil {
		writeJSON(w, status("TENANT_NOT_FOUND_ERROR"))
		return
	}
	lm := s.loginMethods[body.RecipeUserID]
	if lm == nil {
		writeJSON(w, status("UNKNOWN_USER_ID_ERROR"))
		return
	}
	if lm.inTenant(tenantID) {
		writeJSON(w, map[string]any{"status": "OK", "wasAlreadyAssociated": true})
		return
	}
	lm.tenantIDs = append(lm.tenantIDs, tenantID)
	writeJSON(w, map[string]any{"status": "OK", "wasAlreadyAssociated": false})
}

func tenantOf(r *http.Request) string {
	return muxVar(r, "tenantId")
}
