// Package thirdpartyemailpassword serves the emailpassword and thirdparty
// recipes as one recipe. Emailpassword is registered first, so it owns the
// legacy /signup/email/exists route.
package thirdpartyemailpassword

import (
	"context"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/emailpassword"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/thirdparty"
)

// RecipeID is the recipe id.
const RecipeID = "thirdpartyemailpassword"

// Config configures both halves. The thirdparty half is left out when it
// has no providers.
type Config struct {
	EmailPassword emailpassword.Config
	ThirdParty    thirdparty.Config
}

// Recipe is the combined recipe. ThirdParty is nil when no provider is
// configured.
type Recipe struct {
	*recipe.Composite

	EmailPassword *emailpassword.Recipe
	ThirdParty    *thirdparty.Recipe
}

// New builds both halves against deps.
func New(cfg Config, deps *authutils.Deps) (*Recipe, error) {
	r := &Recipe{}
	var err error
	if r.EmailPassword, err = emailpassword.New(cfg.EmailPassword, deps); err != nil {
		return nil, err
	}
	parts := []recipe.Recipe{r.EmailPassword}
	if len(cfg.ThirdParty.Providers) > 0 {
		if r.ThirdParty, err = thirdparty.New(cfg.ThirdParty, deps); err != nil {
			return nil, err
		}
		parts = append(parts, r.ThirdParty)
	}
	if r.Composite, err = recipe.NewComposite(RecipeID, parts...); err != nil {
		return nil, err
	}
	return r, nil
}

// EmailPasswordSignUp creates an emailpassword account without going
// through the API.
func (r *Recipe) EmailPasswordSignUp(ctx context.Context, tenantID, email, password string) (emailpassword.UserResult, error) {
	return r.EmailPassword.Impl.SignUp(ctx, emailpassword.SignUpInput{
		Email:      email,
		Password:   password,
		TenantID:   tenantID,
		TryLinking: authutils.TryLinkingNever,
	})
}

// EmailPasswordSignIn checks credentials without creating a session.
func (r *Recipe) EmailPasswordSignIn(ctx context.Context, tenantID, email, password string) (emailpassword.UserResult, error) {
	return r.EmailPassword.Impl.SignIn(ctx, emailpassword.SignInInput{
		Email:      email,
		Password:   password,
		TenantID:   tenantID,
		TryLinking: authutils.TryLinkingNever,
	})
}

// ThirdPartyManuallyCreateOrUpdateUser records a provider account the app
// has verified itself.
func (r *Recipe) ThirdPartyManuallyCreateOrUpdateUser(ctx context.Context, in thirdparty.SignInUpInput) (thirdparty.SignInUpResult, error) {
	if r.ThirdParty == nil {
		return thirdparty.SignInUpResult{}, oops.Code("CONFIG_INVALID").Errorf("thirdpartyemailpassword: no third party provider is configured")
	}
	return r.ThirdParty.Impl.ManuallyCreateOrUpdateUser(ctx, in)
}
