// Package thirdparty signs users in with OAuth2 providers such as Google and
// GitHub. The frontend redirects to the provider, comes back with an
// authorisation code, and posts it here; the code is exchanged, the user info
// fetched, and the provider account created or updated in the core.
package thirdparty

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/override"
	"github.com/panyam/authrecipes/recipe"
)

// RecipeID is the recipe id.
const RecipeID = recipe.IDThirdParty

// API ids.
const (
	APIAuthorisationURL = "thirdparty-authorisation-url"
	APISignInUp         = "thirdparty-signinup"
)

// Config configures the recipe.
type Config struct {
	// Providers are the app level providers. A tenant that lists providers
	// in the core may only use those, with its own client credentials.
	Providers []ProviderConfig
	Override  struct {
		Functions override.Func[RecipeInterface]
		APIs      override.Func[APIInterface]
	}
	// DisabledAPIs lists API ids that are not registered.
	DisabledAPIs []string
	Logger       *slog.Logger
}

// Recipe is the thirdparty recipe.
type Recipe struct {
	Impl RecipeInterface
	API  APIInterface

	cfg    Config
	deps   *authutils.Deps
	logger *slog.Logger
}

// New builds the recipe.
func New(cfg Config, deps *authutils.Deps) (*Recipe, error) {
	if deps == nil || deps.Querier == nil || deps.Session == nil || deps.AccountLinking == nil || deps.Multitenancy == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("thirdparty: querier, session, multitenancy and account linking are required")
	}
	providers := make([]*Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(providers, func(other *Provider) bool { return other.ID() == p.ID() }) {
			return nil, oops.Code("CONFIG_INVALID").With("third_party_id", p.ID()).
				Errorf("thirdparty: duplicate provider %s", p.ID())
		}
		providers = append(providers, p)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = deps.Logger
	}
	r := &Recipe{cfg: cfg, deps: deps, logger: logging.OrDefault(logger).With("recipe", RecipeID)}

	q := deps.Querier.WithRecipeID(RecipeID)
	var err error
	var b *override.Builder[RecipeInterface]
	b = override.New(NewRecipeImplementation(q, deps, providers, r.logger, func() RecipeInterface { return b.Final() }))
	if r.Impl, err = b.Override(cfg.Override.Functions).Build(); err != nil {
		return nil, err
	}
	if r.API, err = override.New(NewAPIImplementation()).Override(cfg.Override.APIs).Build(); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns RecipeID.
func (r *Recipe) ID() string { return RecipeID }

// FirstFactors lists the factors this recipe can sign users in with.
func (r *Recipe) FirstFactors() []string { return []string{recipe.FactorThirdParty} }

// APIs lists the routes.
func (r *Recipe) APIs() []recipe.APIHandled {
	return []recipe.APIHandled{
		{ID: APIAuthorisationURL, Method: http.MethodGet, PathWithoutBase: "/authorisationurl", Disabled: slices.Contains(r.cfg.DisabledAPIs, APIAuthorisationURL)},
		{ID: APISignInUp, Method: http.MethodPost, PathWithoutBase: "/signinup", Disabled: slices.Contains(r.cfg.DisabledAPIs, APISignInUp)},
	}
}

// HandleAPIRequest dispatches apiID.
func (r *Recipe) HandleAPIRequest(ctx context.Context, apiID, tenantID string, w http.ResponseWriter, req *http.Request) error {
	opts := APIOptions{Recipe: r, Req: req, W: w}
	switch apiID {
	case APIAuthorisationURL:
		return r.handleAuthorisationURL(ctx, tenantID, opts)
	case APISignInUp:
		return r.handleSignInUp(ctx, tenantID, opts)
	}
	return oops.Errorf("thirdparty: unknown api %q", apiID)
}

// Provider looks up thirdPartyID for tenantID and fails with a bad input
// error when it is not configured.
func (r *Recipe) Provider(ctx context.Context, tenantID, thirdPartyID string) (*Provider, error) {
	p, err := r.Impl.GetProvider(ctx, tenantID, thirdPartyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, recipe.NewBadInputError("the provider " + thirdPartyID + " could not be found in the configuration")
	}
	return p, nil
}
