package authrecipes

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/multitenancy"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// RecipeBuilder builds one recipe against the app's shared dependencies.
type RecipeBuilder func(deps *authutils.Deps) (recipe.Recipe, error)

// Config configures an App.
type Config struct {
	AppInfo recipe.AppInfo
	// Core is where users, codes and tokens live.
	Core        querier.Config
	CoreOptions []querier.Option

	Session        session.Config
	AccountLinking accountlinking.Config
	// EmailVerification is nil when the app does not verify emails.
	EmailVerification *emailverification.Config

	// Recipes are built in order. When two recipes serve the same method
	// and path, the one listed first keeps it.
	Recipes []RecipeBuilder

	// AllowedOrigins are glob patterns such as "https://*.example.com".
	// CORS headers are only sent when set.
	AllowedOrigins []string

	// DefaultEmailService and DefaultSMSService replace the console
	// services for recipes that do not configure their own.
	DefaultEmailService delivery.Service[delivery.EmailInput]
	DefaultSMSService   delivery.Service[delivery.SMSInput]

	// OnError handles errors that are not bad input, unauthorised or a
	// failed claim. The default logs them and sends a 500.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
	Logger  *slog.Logger
}

// App holds the initialised recipes and serves their APIs.
type App struct {
	AppInfo           recipe.AppInfo
	Querier           *querier.Querier
	Session           *session.Recipe
	Multitenancy      *multitenancy.Recipe
	AccountLinking    *accountlinking.Recipe
	EmailVerification *emailverification.Recipe

	cfg     Config
	deps    *authutils.Deps
	recipes []recipe.Recipe
	routes  *recipe.Composite
	cors    *corsPolicy
	logger  *slog.Logger
}

// New builds every recipe. Any config error is returned here rather than on
// the first request.
func New(cfg Config) (*App, error) {
	a := &App{cfg: cfg, logger: logging.OrDefault(cfg.Logger)}
	var err error
	if a.AppInfo, err = cfg.AppInfo.Normalise(); err != nil {
		return nil, err
	}
	if a.cors, err = newCORSPolicy(cfg.AllowedOrigins); err != nil {
		return nil, err
	}
	if a.Querier, err = querier.New(cfg.Core, cfg.CoreOptions...); err != nil {
		return nil, err
	}

	sessCfg := cfg.Session
	if sessCfg.Logger == nil {
		sessCfg.Logger = a.logger
	}
	if a.Session, err = session.New(a.AppInfo.AppName, sessCfg); err != nil {
		return nil, err
	}
	a.Multitenancy = multitenancy.New(a.Querier)

	linkCfg := cfg.AccountLinking
	if linkCfg.Logger == nil {
		linkCfg.Logger = a.logger
	}
	if a.AccountLinking, err = accountlinking.New(a.Querier, linkCfg); err != nil {
		return nil, err
	}

	if cfg.EmailVerification != nil {
		evCfg := *cfg.EmailVerification
		if evCfg.Logger == nil {
			evCfg.Logger = a.logger
		}
		a.EmailVerification, err = emailverification.New(evCfg, emailverification.Deps{
			Querier:             a.Querier,
			AppInfo:             a.AppInfo,
			Session:             a.Session,
			AccountLinking:      a.AccountLinking,
			DefaultEmailService: cfg.DefaultEmailService,
		})
		if err != nil {
			return nil, err
		}
	}

	a.deps = &authutils.Deps{
		Querier:               a.Querier,
		AppInfo:               a.AppInfo,
		Session:               a.Session,
		Multitenancy:          a.Multitenancy,
		AccountLinking:        a.AccountLinking,
		EmailVerification:     a.EmailVerification,
		AvailableFirstFactors: a.firstFactors,
		DefaultEmailService:   cfg.DefaultEmailService,
		DefaultSMSService:     cfg.DefaultSMSService,
		Logger:                a.logger,
	}

	seen := map[string]bool{session.RecipeID: true, emailverification.RecipeID: true}
	for _, build := range cfg.Recipes {
		r, err := build(a.deps)
		if err != nil {
			return nil, err
		}
		if seen[r.ID()] {
			return nil, oops.Code("CONFIG_INVALID").With("recipe", r.ID()).
				Errorf("recipe %s is initialised twice", r.ID())
		}
		seen[r.ID()] = true
		a.recipes = append(a.recipes, r)
	}
	if len(a.recipes) == 0 {
		return nil, oops.Code("CONFIG_INVALID").Errorf("at least one recipe is required")
	}

	parts := slices.Clone(a.recipes)
	parts = append(parts, a.Session)
	if a.EmailVerification != nil {
		parts = append(parts, a.EmailVerification)
	}
	if a.routes, err = recipe.NewComposite("app", parts...); err != nil {
		return nil, err
	}
	a.logger.Debug("auth app initialised", "recipes", len(a.recipes), "api_base_path", a.AppInfo.APIBasePath)
	return a, nil
}

// Deps returns the dependencies the recipes were built with.
func (a *App) Deps() *authutils.Deps { return a.deps }

// Recipe returns the recipe with the given id, or nil.
func (a *App) Recipe(id string) recipe.Recipe {
	for _, r := range a.recipes {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

func (a *App) firstFactors() []string {
	var out []string
	for _, r := range a.recipes {
		if ff, ok := r.(recipe.FirstFactorProvider); ok {
			for _, f := range ff.FirstFactors() {
				if !slices.Contains(out, f) {
					out = append(out, f)
				}
			}
		}
	}
	return out
}

// Handler serves every enabled API under the API base path, with and
// without a leading tenant id segment. Other paths get a 404.
func (a *App) Handler() http.Handler {
	return a.handler(nil)
}

// Middleware serves auth APIs and passes every other request to next.
func (a *App) Middleware(next http.Handler) http.Handler {
	return a.handler(next)
}

func (a *App) handler(next http.Handler) http.Handler {
	router := mux.NewRouter()
	base := a.AppInfo.APIBasePath
	if base == "/" {
		base = ""
	}
	apis := a.routes.APIs()
	// Routes without a tenant segment go first so that a tenant route never
	// shadows a longer fixed path.
	for _, api := range apis {
		if !api.Disabled {
			router.Handle(base+api.PathWithoutBase, a.serveAPI(api.ID)).Methods(api.Method, http.MethodOptions)
		}
	}
	for _, api := range apis {
		if !api.Disabled {
			router.Handle(base+"/{tenantId}"+api.PathWithoutBase, a.serveAPI(api.ID)).Methods(api.Method, http.MethodOptions)
		}
	}
	if next != nil {
		router.NotFoundHandler = next
		router.MethodNotAllowedHandler = next
	}

	var h http.Handler = router
	h = a.cors.middleware(h)
	if m := a.cfg.Session.Manager; m != nil {
		h = m.LoadAndSave(h)
	}
	return h
}

func (a *App) serveAPI(apiID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		tenantID := mux.Vars(r)["tenantId"]
		if tenantID == "" {
			tenantID = recipe.DefaultTenantID
		}
		if err := a.routes.HandleAPIRequest(r.Context(), apiID, tenantID, w, r); err != nil {
			a.handleError(w, r, err)
		}
	})
}
