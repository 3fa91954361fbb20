package coretest

import (
	"github.com/panyam/authrecipes/recipe"
)

// SeedUser describes a login method to create directly in the store.
type SeedUser struct {
	RecipeID    string
	TenantID    string
	Email       string
	PhoneNumber string
	ThirdParty  *recipe.ThirdPartyInfo
	Password    string
	Verified    bool
}

// AddUser creates a login method and returns its recipe user ID.
func (s *Server) AddUser(u SeedUser) recipe.RecipeUserID {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := u.TenantID
	if tenantID == "" {
		tenantID = recipe.DefaultTenantID
	}
	lm := s.newLoginMethod(u.RecipeID, tenantID)
	lm.email, lm.phone, lm.thirdParty = u.Email, u.PhoneNumber, u.ThirdParty
	if u.Password != "" {
		lm.passwordHash = hashSecret(u.Password)
	}
	if u.Verified && u.Email != "" {
		s.verified[verifiedKey(lm.recipeUserID, u.Email)] = true
	}
	return recipe.RecipeUserID(lm.recipeUserID)
}

// MakePrimary turns a recipe user into a primary user.
func (s *Server) MakePrimary(id recipe.RecipeUserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primaries[string(id)] = true
	s.primaryOf[string(id)] = string(id)
}

// Link attaches a recipe user to a primary user.
func (s *Server) Link(id recipe.RecipeUserID, primaryUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primaryOf[string(id)] = primaryUserID
}

// User returns the user owning id, or nil.
func (s *Server) User(id string) *recipe.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildUser(s.userIDOf(id))
}

// IsEmailVerified reports the verification state of a login method's email.
func (s *Server) IsEmailVerified(id recipe.RecipeUserID, email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[verifiedKey(string(id), email)]
}

// UserCount returns the number of login methods.
func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loginMethods)
}
