// Package emailverification sends verification links and records which
// login method emails have been verified.
package emailverification

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/override"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// Mode says whether a verified email is needed to use the app.
type Mode string

const (
	ModeRequired Mode = "REQUIRED"
	ModeOptional Mode = "OPTIONAL"
)

// API ids.
const (
	APIGenerateToken   = "generate-email-verify-token"
	APIVerifyEmail     = "verify-email"
	APIIsEmailVerified = "is-email-verified"
)

// ClaimKey is the access token claim caching the verification state.
const ClaimKey = "st-ev"

// EmailLookup returns the email of a login method. ok is false for login
// methods without an email; such methods count as verified.
type EmailLookup func(ctx context.Context, user *recipe.User, recipeUserID recipe.RecipeUserID) (email string, ok bool, err error)

// Config configures the recipe.
type Config struct {
	Mode Mode
	// GetEmailForRecipeUserID overrides the email lookup. The default reads
	// the login method from the core.
	GetEmailForRecipeUserID EmailLookup
	EmailDelivery           delivery.Config[delivery.EmailInput]
	Override                struct {
		Functions override.Func[RecipeInterface]
		APIs      override.Func[APIInterface]
	}
	// DisabledAPIs lists API ids that are not registered.
	DisabledAPIs []string
	Logger       *slog.Logger
}

// Deps are the collaborators the recipe needs.
type Deps struct {
	Querier             *querier.Querier
	AppInfo             recipe.AppInfo
	Session             *session.Recipe
	AccountLinking      *accountlinking.Recipe
	DefaultEmailService delivery.Service[delivery.EmailInput]
}

// Recipe is the email verification recipe.
type Recipe struct {
	Impl RecipeInterface
	API  APIInterface

	cfg           Config
	deps          Deps
	emailDelivery *delivery.Ingredient[delivery.EmailInput]
	logger        *slog.Logger
}

// RecipeID is the recipe id.
const RecipeID = recipe.IDEmailVerification

// New builds the recipe.
func New(cfg Config, deps Deps) (*Recipe, error) {
	switch cfg.Mode {
	case ModeRequired, ModeOptional:
	case "":
		cfg.Mode = ModeRequired
	default:
		return nil, oops.Code("CONFIG_INVALID").Errorf("emailverification: mode must be REQUIRED or OPTIONAL, got %q", cfg.Mode)
	}
	if deps.Querier == nil || deps.Session == nil || deps.AccountLinking == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("emailverification: querier, session and account linking are required")
	}

	r := &Recipe{cfg: cfg, deps: deps, logger: logging.OrDefault(cfg.Logger)}
	if r.cfg.GetEmailForRecipeUserID == nil {
		r.cfg.GetEmailForRecipeUserID = r.defaultEmailLookup
	}

	defaultEmail := deps.DefaultEmailService
	if defaultEmail == nil {
		defaultEmail = &delivery.ConsoleEmailService{Logger: r.logger}
	}
	var err error
	if r.emailDelivery, err = delivery.NewIngredient(cfg.EmailDelivery, defaultEmail); err != nil {
		return nil, err
	}

	q := deps.Querier.WithRecipeID(RecipeID)
	if r.Impl, err = override.New(NewRecipeImplementation(q, deps.AccountLinking)).Override(cfg.Override.Functions).Build(); err != nil {
		return nil, err
	}
	if r.API, err = override.New(NewAPIImplementation()).Override(cfg.Override.APIs).Build(); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns RecipeID.
func (r *Recipe) ID() string { return RecipeID }

// Mode returns the configured mode.
func (r *Recipe) Mode() Mode { return r.cfg.Mode }

// APIs lists the routes.
func (r *Recipe) APIs() []recipe.APIHandled {
	disabled := func(id string) bool {
		for _, d := range r.cfg.DisabledAPIs {
			if d == id {
				return true
			}
		}
		return false
	}
	return []recipe.APIHandled{
		{ID: APIGenerateToken, Method: http.MethodPost, PathWithoutBase: "/user/email/verify/token", Disabled: disabled(APIGenerateToken)},
		{ID: APIVerifyEmail, Method: http.MethodPost, PathWithoutBase: "/user/email/verify", Disabled: disabled(APIVerifyEmail)},
		{ID: APIIsEmailVerified, Method: http.MethodGet, PathWithoutBase: "/user/email/verify", Disabled: disabled(APIIsEmailVerified)},
	}
}

// EmailVerifyLink builds the link sent in verification emails.
func EmailVerifyLink(appInfo recipe.AppInfo, req *http.Request, token, tenantID string) string {
	return appInfo.Origin(req) + appInfo.WebsiteBasePath + "/verify-email?token=" +
		url.QueryEscape(token) + "&tenantId=" + url.QueryEscape(tenantID)
}

// GetEmailForRecipeUserID returns the login method's email.
func (r *Recipe) GetEmailForRecipeUserID(ctx context.Context, user *recipe.User, recipeUserID recipe.RecipeUserID) (string, bool, error) {
	return r.cfg.GetEmailForRecipeUserID(ctx, user, recipeUserID)
}

func (r *Recipe) defaultEmailLookup(ctx context.Context, user *recipe.User, recipeUserID recipe.RecipeUserID) (string, bool, error) {
	if user == nil {
		var err error
		if user, err = r.deps.AccountLinking.Impl.GetUser(ctx, recipeUserID.String()); err != nil {
			return "", false, err
		}
	}
	lm := user.LoginMethod(recipeUserID)
	if lm == nil {
		return "", false, oops.With("recipe_user_id", recipeUserID).Errorf("unknown login method")
	}
	return lm.Email, lm.Email != "", nil
}

// MarkEmailAsVerified issues a verification token and redeems it at once.
// An already verified email is not an error.
func (r *Recipe) MarkEmailAsVerified(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) error {
	return MarkEmailAsVerified(ctx, r.Impl, tenantID, recipeUserID, email)
}

// MarkEmailAsVerified does the same through impl, for callers that verify
// emails without the recipe being configured.
func MarkEmailAsVerified(ctx context.Context, impl RecipeInterface, tenantID string, recipeUserID recipe.RecipeUserID, email string) error {
	tok, err := impl.CreateEmailVerificationToken(ctx, tenantID, recipeUserID, email)
	if err != nil {
		return err
	}
	if tok.Status == StatusEmailAlreadyVerified {
		return nil
	}
	res, err := impl.VerifyEmailUsingToken(ctx, tenantID, tok.Token, false)
	if err != nil {
		return err
	}
	if res.Status != StatusOK {
		return oops.With("status", res.Status).Errorf("freshly issued verification token was rejected")
	}
	return nil
}

// HandleAPIRequest dispatches apiID.
func (r *Recipe) HandleAPIRequest(ctx context.Context, apiID, tenantID string, w http.ResponseWriter, req *http.Request) error {
	opts := APIOptions{Recipe: r, Req: req, W: w}
	switch apiID {
	case APIGenerateToken:
		return r.handleGenerateToken(ctx, tenantID, opts)
	case APIVerifyEmail:
		return r.handleVerifyEmail(ctx, tenantID, opts)
	case APIIsEmailVerified:
		return r.handleIsEmailVerified(ctx, opts)
	}
	return oops.Errorf("emailverification: unknown api %q", apiID)
}

// RequireVerified rejects requests whose session has not verified its email
// when the mode is REQUIRED. Sessions must already be in the context, see
// session.VerifySession.
func (r *Recipe) RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s := session.FromContext(req.Context())
		if r.cfg.Mode == ModeOptional || s == nil {
			next.ServeHTTP(w, req)
			return
		}
		verified, err := r.refreshClaim(req.Context(), s)
		if err != nil {
			logging.LogError(r.logger, "checking email verification", err)
			http.Error(w, `{"message":"Internal Server Error"}`, http.StatusInternalServerError)
			return
		}
		if !verified {
			recipe.SendInvalidClaim(w, ClaimKey)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// refreshClaim trusts a verified claim already in the token and fetches
// otherwise.
func (r *Recipe) refreshClaim(ctx context.Context, s session.Session) (bool, error) {
	if claim, ok := s.AccessTokenPayload()[ClaimKey].(map[string]any); ok {
		if v, _ := claim["v"].(bool); v {
			return true, nil
		}
	}
	return r.FetchAndSetClaim(ctx, s)
}

// FetchAndSetClaim reads the verification state of the session's login
// method from the core and stores it in the access token.
func (r *Recipe) FetchAndSetClaim(ctx context.Context, s session.Session) (bool, error) {
	email, ok, err := r.GetEmailForRecipeUserID(ctx, nil, s.RecipeUserID())
	if err != nil {
		return false, err
	}
	verified := true
	if ok {
		if verified, err = r.Impl.IsEmailVerified(ctx, s.RecipeUserID(), email); err != nil {
			return false, err
		}
	}
	if err := r.setClaim(ctx, s, verified); err != nil {
		return false, err
	}
	return verified, nil
}

func (r *Recipe) setClaim(ctx context.Context, s session.Session, verified bool) error {
	return s.MergeIntoAccessTokenPayload(ctx, map[string]any{
		ClaimKey: map[string]any{"v": verified, "t": time.Now().UnixMilli()},
	})
}
