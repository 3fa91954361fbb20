// Package thirdpartypasswordless serves the thirdparty and passwordless
// recipes as one recipe. Each sub recipe keeps its own config, overrides and
// routes; this package only builds them against shared dependencies and
// routes every API id to its owner.
package thirdpartypasswordless

import (
	"context"
	"net/http"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/passwordless"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/thirdparty"
)

// RecipeID is the recipe id.
const RecipeID = "thirdpartypasswordless"

// Config configures both halves. The thirdparty half is left out when it
// has no providers.
type Config struct {
	ThirdParty   thirdparty.Config
	Passwordless passwordless.Config
}

// Recipe is the combined recipe. ThirdParty is nil when no provider is
// configured.
type Recipe struct {
	*recipe.Composite

	ThirdParty   *thirdparty.Recipe
	Passwordless *passwordless.Recipe
}

// New builds both halves against deps.
func New(cfg Config, deps *authutils.Deps) (*Recipe, error) {
	r := &Recipe{}
	var parts []recipe.Recipe
	var err error
	if len(cfg.ThirdParty.Providers) > 0 {
		if r.ThirdParty, err = thirdparty.New(cfg.ThirdParty, deps); err != nil {
			return nil, err
		}
		parts = append(parts, r.ThirdParty)
	}
	if r.Passwordless, err = passwordless.New(cfg.Passwordless, deps); err != nil {
		return nil, err
	}
	parts = append(parts, r.Passwordless)
	if r.Composite, err = recipe.NewComposite(RecipeID, parts...); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateMagicLink starts a passwordless login for contact and returns its
// link without sending anything.
func (r *Recipe) CreateMagicLink(ctx context.Context, tenantID string, contact passwordless.Contact, req *http.Request) (string, error) {
	return r.Passwordless.CreateMagicLink(ctx, tenantID, contact, req)
}

// PasswordlessSignInUp signs contact in or up without a code.
func (r *Recipe) PasswordlessSignInUp(ctx context.Context, tenantID string, contact passwordless.Contact) (passwordless.ConsumeCodeResult, error) {
	return r.Passwordless.SignInUp(ctx, tenantID, contact)
}

// ThirdPartyManuallyCreateOrUpdateUser records a provider account the app
// has verified itself.
func (r *Recipe) ThirdPartyManuallyCreateOrUpdateUser(ctx context.Context, in thirdparty.SignInUpInput) (thirdparty.SignInUpResult, error) {
	if r.ThirdParty == nil {
		return thirdparty.SignInUpResult{}, oops.Code("CONFIG_INVALID").Errorf("thirdpartypasswordless: no third party provider is configured")
	}
	return r.ThirdParty.Impl.ManuallyCreateOrUpdateUser(ctx, in)
}
