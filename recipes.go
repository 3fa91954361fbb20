package authrecipes

import (
	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/emailpassword"
	"github.com/panyam/authrecipes/passwordless"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/thirdparty"
	"github.com/panyam/authrecipes/thirdpartyemailpassword"
	"github.com/panyam/authrecipes/thirdpartypasswordless"
)

// Passwordless builds the passwordless recipe.
func Passwordless(cfg passwordless.Config) RecipeBuilder {
	return func(deps *authutils.Deps) (recipe.Recipe, error) {
		return passwordless.New(cfg, deps)
	}
}

// ThirdParty builds the thirdparty recipe.
func ThirdParty(cfg thirdparty.Config) RecipeBuilder {
	return func(deps *authutils.Deps) (recipe.Recipe, error) {
		return thirdparty.New(cfg, deps)
	}
}

// EmailPassword builds the emailpassword recipe.
func EmailPassword(cfg emailpassword.Config) RecipeBuilder {
	return func(deps *authutils.Deps) (recipe.Recipe, error) {
		return emailpassword.New(cfg, deps)
	}
}

// ThirdPartyPasswordless builds the combined thirdparty and passwordless
// recipe.
func ThirdPartyPasswordless(cfg thirdpartypasswordless.Config) RecipeBuilder {
	return func(deps *authutils.Deps) (recipe.Recipe, error) {
		return thirdpartypasswordless.New(cfg, deps)
	}
}

// ThirdPartyEmailPassword builds the combined emailpassword and thirdparty
// recipe.
func ThirdPartyEmailPassword(cfg thirdpartyemailpassword.Config) RecipeBuilder {
	return func(deps *authutils.Deps) (recipe.Recipe, error) {
		return thirdpartyemailpassword.New(cfg, deps)
	}
}
