package thirdparty

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// Statuses.
const (
	StatusOK                     = "OK"
	StatusEmailChangeNotAllowed  = "EMAIL_CHANGE_NOT_ALLOWED_ERROR"
	StatusNoEmailGivenByProvider = "NO_EMAIL_GIVEN_BY_PROVIDER"
	StatusSignInUpNotAllowed     = authutils.StatusSignInUpNotAllowed
)

// SignInUpInput identifies the provider account signing in.
type SignInUpInput struct {
	ThirdPartyID     string
	ThirdPartyUserID string
	Email            string
	IsVerified       bool
	TenantID         string
	Session          session.Session
	TryLinking       authutils.TryLinking

	OAuthTokens             *oauth2.Token
	RawUserInfoFromProvider map[string]any
}

// SignInUpResult is OK with the user, EMAIL_CHANGE_NOT_ALLOWED_ERROR, or a
// linking denial with its reason.
type SignInUpResult struct {
	Status               string
	Reason               string
	CreatedNewRecipeUser bool
	User                 *recipe.User
	RecipeUserID         recipe.RecipeUserID

	OAuthTokens             *oauth2.Token
	RawUserInfoFromProvider map[string]any
}

// RecipeInterface is the overridable set of recipe operations.
type RecipeInterface struct {
	// SignInUp creates or updates the provider account and links it.
	SignInUp func(ctx context.Context, in SignInUpInput) (SignInUpResult, error)
	// ManuallyCreateOrUpdateUser does the same for accounts the app has
	// verified itself. OAuth fields of in are ignored.
	ManuallyCreateOrUpdateUser func(ctx context.Context, in SignInUpInput) (SignInUpResult, error)
	// GetProvider returns the provider for thirdPartyID on tenantID, or nil.
	GetProvider func(ctx context.Context, tenantID, thirdPartyID string) (*Provider, error)
}

// NewRecipeImplementation returns the default operations. self returns the
// fully overridden interface.
func NewRecipeImplementation(q *querier.Querier, deps *authutils.Deps, providers []*Provider, logger *slog.Logger, self func() RecipeInterface) RecipeInterface {
	var verification emailverification.RecipeInterface
	if deps.EmailVerification != nil {
		verification = deps.EmailVerification.Impl
	} else {
		verification = emailverification.NewRecipeImplementation(q, deps.AccountLinking)
	}

	return RecipeInterface{
		SignInUp: func(ctx context.Context, in SignInUpInput) (SignInUpResult, error) {
			res, err := self().ManuallyCreateOrUpdateUser(ctx, in)
			if err != nil || res.Status != StatusOK {
				return res, err
			}
			res.OAuthTokens = in.OAuthTokens
			res.RawUserInfoFromProvider = in.RawUserInfoFromProvider
			return res, nil
		},

		ManuallyCreateOrUpdateUser: func(ctx context.Context, in SignInUpInput) (SignInUpResult, error) {
			existing, err := deps.AccountLinking.Impl.ListUsersByAccountInfo(ctx, in.TenantID, recipe.AccountInfo{
				ThirdParty: &recipe.ThirdPartyInfo{ID: in.ThirdPartyID, UserID: in.ThirdPartyUserID},
			}, false)
			if err != nil {
				return SignInUpResult{}, err
			}
			if len(existing) > 1 {
				return SignInUpResult{}, oops.Code("MULTIPLE_USERS_FOR_ACCOUNT_INFO").
					With("third_party_id", in.ThirdPartyID).
					Errorf("more than one user has the same third party login")
			}
			if len(existing) == 1 {
				allowed, err := deps.AccountLinking.IsEmailChangeAllowed(ctx, in.TenantID, &existing[0], in.Email, in.IsVerified, in.Session)
				if err != nil {
					return SignInUpResult{}, err
				}
				if !allowed {
					return SignInUpResult{
						Status: StatusEmailChangeNotAllowed,
						Reason: "Email already associated with another primary user.",
					}, nil
				}
			}

			path := querier.TenantPath(in.TenantID, "/recipe/signinup")
			var resp struct {
				Status         string              `json:"status"`
				Reason         string              `json:"reason"`
				CreatedNewUser bool                `json:"createdNewUser"`
				User           *recipe.User        `json:"user"`
				RecipeUserID   recipe.RecipeUserID `json:"recipeUserId"`
			}
			body := map[string]any{
				"thirdPartyId":     in.ThirdPartyID,
				"thirdPartyUserId": in.ThirdPartyUserID,
				"email":            EmailInfo{ID: in.Email, IsVerified: in.IsVerified},
			}
			if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
				return SignInUpResult{}, err
			}
			switch resp.Status {
			case StatusOK:
			case StatusEmailChangeNotAllowed:
				return SignInUpResult{Status: resp.Status, Reason: resp.Reason}, nil
			default:
				return SignInUpResult{}, querier.UnknownStatus(path, resp.Status)
			}
			if resp.User == nil {
				return SignInUpResult{}, oops.With("path", path.String()).Errorf("signinup response has no user")
			}
			logger.DebugContext(ctx, "third party user signed in",
				"tenant_id", in.TenantID, "third_party_id", in.ThirdPartyID, "created_new_user", resp.CreatedNewUser)

			if lm := resp.User.LoginMethod(resp.RecipeUserID); in.IsVerified && lm != nil && !lm.Verified {
				if err := emailverification.MarkEmailAsVerified(ctx, verification, in.TenantID, resp.RecipeUserID, in.Email); err != nil {
					return SignInUpResult{}, err
				}
				lm.Verified = true
			}

			link, err := deps.LinkToSessionIfProvidedElseCreatePrimaryUserIDOrLinkByAccountInfo(ctx,
				in.TenantID, resp.User, resp.RecipeUserID, in.Session, in.TryLinking)
			if err != nil {
				return SignInUpResult{}, err
			}
			if link.Status != authutils.StatusOK {
				return SignInUpResult{Status: link.Status, Reason: link.Reason}, nil
			}
			return SignInUpResult{
				Status:               StatusOK,
				CreatedNewRecipeUser: resp.CreatedNewUser,
				User:                 link.User,
				RecipeUserID:         resp.RecipeUserID,
			}, nil
		},

		GetProvider: func(ctx context.Context, tenantID, thirdPartyID string) (*Provider, error) {
			var static *Provider
			for _, p := range providers {
				if p.ID() == thirdPartyID {
					static = p
					break
				}
			}
			tenant, err := deps.Multitenancy.GetTenant(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			if tenant == nil || len(tenant.ThirdPartyProviders) == 0 {
				return static, nil
			}
			for _, entry := range tenant.ThirdPartyProviders {
				if id, _ := entry["thirdPartyId"].(string); id == thirdPartyID {
					return tenantProvider(static, entry)
				}
			}
			return nil, nil
		},
	}
}

// tenantProvider applies the client credentials a tenant configures on top
// of the app level provider.
func tenantProvider(static *Provider, entry map[string]any) (*Provider, error) {
	if static == nil {
		return nil, nil
	}
	clients, _ := entry["clients"].([]any)
	if len(clients) == 0 {
		return static, nil
	}
	client, _ := clients[0].(map[string]any)
	cfg := static.cfg
	if id, _ := client["clientId"].(string); id != "" {
		cfg.ClientID = id
	}
	if secret, _ := client["clientSecret"].(string); secret != "" {
		cfg.ClientSecret = secret
	}
	if scopes, ok := client["scope"].([]any); ok && len(scopes) > 0 {
		cfg.Scopes = nil
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				cfg.Scopes = append(cfg.Scopes, str)
			}
		}
	}
	return NewProvider(cfg)
}
