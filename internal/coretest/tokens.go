package coretest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// tokenType separates email verification tokens from password reset tokens.
type tokenType string

const (
	tokenTypeEmailVerification tokenType = "email_verification"
	tokenTypePasswordReset     tokenType = "password_reset"
)

const (
	tokenExpiryEmailVerification = 24 * time.Hour
	tokenExpiryPasswordReset     = 1 * time.Hour
)

type authToken struct {
	token        string
	kind         tokenType
	tenantID     string
	recipeUserID string
	email        string
	expiresAt    time.Time
}

func (t *authToken) isValid(kind tokenType, tenantID string, now time.Time) bool {
	return t.kind == kind && t.tenantID == tenantID && now.Before(t.expiresAt)
}

func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("coretest: generating token: %v", err))
	}
	return hex.EncodeToString(b)
}

// issueToken must be called with s.mu held.
func (s *Server) issueToken(kind tokenType, tenantID, recipeUserID, email string, ttl time.Duration) string {
	tok := &authToken{
		token:        generateSecureToken(),
		kind:         kind,
		tenantID:     tenantID,
		recipeUserID: recipeUserID,
		email:        email,
		expiresAt:    s.Now().Add(ttl),
	}
	s.tokens[tok.token] = tok
	return tok.token
}

// revokeTokens must be called with s.mu held.
func (s *Server) revokeTokens(kind tokenType, recipeUserID, email string) {
	for k, tok := range s.tokens {
		if tok.kind == kind && tok.recipeUserID == recipeUserID && (email == "" || tok.email == email) {
			delete(s.tokens, k)
		}
	}
}
