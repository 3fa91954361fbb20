package emailverification

import (
	"context"
	"net/url"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
)

// Statuses returned by the recipe operations besides OK.
const (
	StatusOK                   = "OK"
	StatusEmailAlreadyVerified = "EMAIL_ALREADY_VERIFIED_ERROR"
	StatusInvalidToken         = "EMAIL_VERIFICATION_INVALID_TOKEN_ERROR"
)

// TokenResult is the outcome of CreateEmailVerificationToken.
type TokenResult struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

// VerifiedUser identifies the login method whose email was verified.
type VerifiedUser struct {
	RecipeUserID recipe.RecipeUserID `json:"recipeUserId"`
	Email        string              `json:"email"`
}

// VerifyResult is the outcome of VerifyEmailUsingToken.
type VerifyResult struct {
	Status string        `json:"status"`
	User   *VerifiedUser `json:"user,omitempty"`
}

// RecipeInterface is the overridable set of verification operations.
type RecipeInterface struct {
	CreateEmailVerificationToken  func(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) (TokenResult, error)
	VerifyEmailUsingToken         func(ctx context.Context, tenantID, token string, attemptAccountLinking bool) (VerifyResult, error)
	IsEmailVerified               func(ctx context.Context, recipeUserID recipe.RecipeUserID, email string) (bool, error)
	RevokeEmailVerificationTokens func(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) error
	UnverifyEmail                 func(ctx context.Context, recipeUserID recipe.RecipeUserID, email string) error
}

// NewRecipeImplementation returns the core backed implementation. linking
// may be nil, in which case verification never triggers linking.
func NewRecipeImplementation(q *querier.Querier, linking *accountlinking.Recipe) RecipeInterface {
	return RecipeInterface{
		CreateEmailVerificationToken: func(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) (TokenResult, error) {
			path := querier.TenantPath(tenantID, "/recipe/user/email/verify/token")
			var res TokenResult
			body := map[string]any{"userId": recipeUserID, "email": email}
			if err := q.SendPostRequest(ctx, path, body, &res); err != nil {
				return TokenResult{}, err
			}
			switch res.Status {
			case StatusOK, StatusEmailAlreadyVerified:
				return res, nil
			}
			return TokenResult{}, querier.UnknownStatus(path, res.Status)
		},

		VerifyEmailUsingToken: func(ctx context.Context, tenantID, token string, attemptAccountLinking bool) (VerifyResult, error) {
			path := querier.TenantPath(tenantID, "/recipe/user/email/verify")
			var resp struct {
				Status string `json:"status"`
				UserID string `json:"userId"`
				Email  string `json:"email"`
			}
			body := map[string]any{"method": "token", "token": token}
			if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
				return VerifyResult{}, err
			}
			switch resp.Status {
			case StatusInvalidToken:
				return VerifyResult{Status: resp.Status}, nil
			case StatusOK:
			default:
				return VerifyResult{}, querier.UnknownStatus(path, resp.Status)
			}

			rid := recipe.RecipeUserID(resp.UserID)
			if attemptAccountLinking && linking != nil {
				if _, err := linking.CreatePrimaryUserIDOrLinkByAccountInfo(ctx, tenantID, rid, nil); err != nil {
					return VerifyResult{}, err
				}
			}
			return VerifyResult{Status: StatusOK, User: &VerifiedUser{RecipeUserID: rid, Email: resp.Email}}, nil
		},

		IsEmailVerified: func(ctx context.Context, recipeUserID recipe.RecipeUserID, email string) (bool, error) {
			path := querier.RootPath("/recipe/user/email/verify")
			var resp struct {
				Status     string `json:"status"`
				IsVerified bool   `json:"isVerified"`
			}
			params := url.Values{"userId": {recipeUserID.String()}, "email": {email}}
			if err := q.SendGetRequest(ctx, path, params, &resp); err != nil {
				return false, err
			}
			if resp.Status != StatusOK {
				return false, querier.UnknownStatus(path, resp.Status)
			}
			return resp.IsVerified, nil
		},

		RevokeEmailVerificationTokens: func(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) error {
			path := querier.TenantPath(tenantID, "/recipe/user/email/verify/token/remove")
			var resp struct {
				Status string `json:"status"`
			}
			body := map[string]any{"userId": recipeUserID, "email": email}
			if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
				return err
			}
			if resp.Status != StatusOK {
				return querier.UnknownStatus(path, resp.Status)
			}
			return nil
		},

		UnverifyEmail: func(ctx context.Context, recipeUserID recipe.RecipeUserID, email string) error {
			path := querier.RootPath("/recipe/user/email/verify/remove")
			var resp struct {
				Status string `json:"status"`
			}
			body := map[string]any{"userId": recipeUserID, "email": email}
			if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
				return err
			}
			if resp.Status != StatusOK {
				return querier.UnknownStatus(path, resp.Status)
			}
			return nil
		},
	}
}
