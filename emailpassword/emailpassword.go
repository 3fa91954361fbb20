// Package emailpassword signs users up and in with an email and a password,
// and resets forgotten passwords through an emailed link. Passwords are
// hashed and checked by the core; this package validates the forms, runs
// the sign in checks shared with the other recipes and creates the session.
package emailpassword

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/override"
	"github.com/panyam/authrecipes/recipe"
)

// RecipeID is the recipe id.
const RecipeID = recipe.IDEmailPassword

// API ids.
const (
	APISignUp                     = "emailpassword-signup"
	APISignIn                     = "emailpassword-signin"
	APIEmailExists                = "emailpassword-email-exists"
	APIEmailExistsLegacy          = "emailpassword-email-exists-legacy"
	APIGeneratePasswordResetToken = "emailpassword-generate-password-reset-token"
	APIPasswordReset              = "emailpassword-password-reset"
)

// Recipe is the emailpassword recipe.
type Recipe struct {
	Impl RecipeInterface
	API  APIInterface

	cfg           Config
	deps          *authutils.Deps
	verification  emailverification.RecipeInterface
	emailDelivery *delivery.Ingredient[delivery.EmailInput]
	logger        *slog.Logger
}

// New builds the recipe. deps is shared with the other recipes of the app.
func New(cfg Config, deps *authutils.Deps) (*Recipe, error) {
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if deps == nil || deps.Querier == nil || deps.Session == nil || deps.AccountLinking == nil || deps.Multitenancy == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("emailpassword: querier, session, multitenancy and account linking are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = deps.Logger
	}
	r := &Recipe{cfg: cfg, deps: deps, logger: logging.OrDefault(logger).With("recipe", RecipeID)}

	var defaultEmail delivery.Service[delivery.EmailInput] = &delivery.ConsoleEmailService{Logger: r.logger}
	if deps.DefaultEmailService != nil {
		defaultEmail = deps.DefaultEmailService
	}
	var err error
	if r.emailDelivery, err = delivery.NewIngredient(cfg.EmailDelivery, defaultEmail); err != nil {
		return nil, err
	}

	q := deps.Querier.WithRecipeID(RecipeID)
	if deps.EmailVerification != nil {
		r.verification = deps.EmailVerification.Impl
	} else {
		r.verification = emailverification.NewRecipeImplementation(deps.Querier.WithRecipeID(emailverification.RecipeID), nil)
	}

	var b *override.Builder[RecipeInterface]
	b = override.New(NewRecipeImplementation(q, deps, cfg.passwordValidator(), r.logger, func() RecipeInterface { return b.Final() }))
	if r.Impl, err = b.Override(cfg.Override.Functions).Build(); err != nil {
		return nil, err
	}
	if r.API, err = override.New(NewAPIImplementation()).Override(cfg.Override.APIs).Build(); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Config) passwordValidator() Validator {
	for _, f := range c.signUpFields {
		if f.ID == FormFieldPassword {
			return f.Validate
		}
	}
	return DefaultValidatePassword
}

// ID returns RecipeID.
func (r *Recipe) ID() string { return RecipeID }

// FirstFactors lists the factors this recipe can sign users in with.
func (r *Recipe) FirstFactors() []string { return []string{recipe.FactorEmailPassword} }

// APIs lists the routes.
func (r *Recipe) APIs() []recipe.APIHandled {
	api := func(id, method, path string) recipe.APIHandled {
		return recipe.APIHandled{ID: id, Method: method, PathWithoutBase: path, Disabled: slices.Contains(r.cfg.DisabledAPIs, id)}
	}
	return []recipe.APIHandled{
		api(APISignUp, http.MethodPost, "/signup"),
		api(APISignIn, http.MethodPost, "/signin"),
		api(APIEmailExists, http.MethodGet, "/emailpassword/email/exists"),
		api(APIEmailExistsLegacy, http.MethodGet, "/signup/email/exists"),
		api(APIGeneratePasswordResetToken, http.MethodPost, "/user/password/reset/token"),
		api(APIPasswordReset, http.MethodPost, "/user/password/reset"),
	}
}

// HandleAPIRequest dispatches apiID.
func (r *Recipe) HandleAPIRequest(ctx context.Context, apiID, tenantID string, w http.ResponseWriter, req *http.Request) error {
	opts := APIOptions{Recipe: r, Req: req, W: w}
	switch apiID {
	case APISignUp:
		return r.handleSignUp(ctx, tenantID, opts)
	case APISignIn:
		return r.handleSignIn(ctx, tenantID, opts)
	case APIEmailExists, APIEmailExistsLegacy:
		return r.handleEmailExists(ctx, tenantID, opts)
	case APIGeneratePasswordResetToken:
		return r.handleGeneratePasswordResetToken(ctx, tenantID, opts)
	case APIPasswordReset:
		return r.handlePasswordReset(ctx, tenantID, opts)
	}
	return oops.Errorf("emailpassword: unknown api %q", apiID)
}

// PasswordResetLink builds the link sent in reset emails. req may be nil.
func (r *Recipe) PasswordResetLink(req *http.Request, token, tenantID string) string {
	info := r.deps.AppInfo
	return info.Origin(req) + info.WebsiteBasePath + "/reset-password?token=" +
		url.QueryEscape(token) + "&tenantId=" + url.QueryEscape(tenantID)
}

// CreateResetPasswordLink issues a reset token for the emailpassword login
// method of recipeUserID and returns its link without sending anything.
// It returns "" when the login method does not exist.
func (r *Recipe) CreateResetPasswordLink(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) (string, error) {
	tok, err := r.Impl.CreateResetPasswordToken(ctx, tenantID, recipeUserID, email)
	if err != nil || tok.Status != StatusOK {
		return "", err
	}
	return r.PasswordResetLink(nil, tok.Token, tenantID), nil
}
