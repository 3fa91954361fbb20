// Package passwordless signs users in with one-time codes and magic links
// sent by email or SMS.
//
// A login attempt is a device in the core: createCode starts one, resend
// adds codes to it, and consume completes it. The core owns the codes and
// the attempt counters; this package validates input, runs the sign in
// checks, links the new login method, sends the messages and creates the
// session.
package passwordless

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
const RecipeID = recipe.IDPasswordless

// API ids.
const (
	APICreateCode        = "passwordless-create-code"
	APIResendCode        = "passwordless-resend-code"
	APIConsumeCode       = "passwordless-consume-code"
	APIEmailExists       = "passwordless-email-exists"
	APIEmailExistsLegacy = "passwordless-email-exists-legacy"
	APIPhoneExists       = "passwordless-phone-number-exists"
	APIPhoneExistsLegacy = "passwordless-phone-number-exists-legacy"
)

// Recipe is the passwordless recipe.
type Recipe struct {
	Impl RecipeInterface
	API  APIInterface

	cfg           Config
	deps          *authutils.Deps
	verification  emailverification.RecipeInterface
	emailDelivery *delivery.Ingredient[delivery.EmailInput]
	smsDelivery   *delivery.Ingredient[delivery.SMSInput]
	logger        *slog.Logger
}

// New builds the recipe. deps is shared with the other recipes of the app.
func New(cfg Config, deps *authutils.Deps) (*Recipe, error) {
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if deps == nil || deps.Querier == nil || deps.Session == nil || deps.AccountLinking == nil || deps.Multitenancy == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("passwordless: querier, session, multitenancy and account linking are required")
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
	var defaultSMS delivery.Service[delivery.SMSInput] = &delivery.ConsoleSMSService{Logger: r.logger}
	if deps.DefaultSMSService != nil {
		defaultSMS = deps.DefaultSMSService
	}
	var err error
	if r.emailDelivery, err = delivery.NewIngredient(cfg.EmailDelivery, defaultEmail); err != nil {
		return nil, err
	}
	if r.smsDelivery, err = delivery.NewIngredient(cfg.SMSDelivery, defaultSMS); err != nil {
		return nil, err
	}

	q := deps.Querier.WithRecipeID(RecipeID)
	r.verification = verificationFor(q, deps)
	if r.Impl, err = override.New(NewRecipeImplementation(q, deps, r.logger)).Override(cfg.Override.Functions).Build(); err != nil {
		return nil, err
	}
	if r.API, err = override.New(NewAPIImplementation()).Override(cfg.Override.APIs).Build(); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns RecipeID.
func (r *Recipe) ID() string { return RecipeID }

// Config returns the normalised config.
func (r *Recipe) Config() Config { return r.cfg }

// FirstFactors lists the factors this recipe can sign users in with.
func (r *Recipe) FirstFactors() []string { return r.cfg.enabledFactors() }

// APIs lists the routes.
func (r *Recipe) APIs() []recipe.APIHandled {
	api := func(id, method, path string) recipe.APIHandled {
		return recipe.APIHandled{ID: id, Method: method, PathWithoutBase: path, Disabled: slices.Contains(r.cfg.DisabledAPIs, id)}
	}
	return []recipe.APIHandled{
		api(APICreateCode, http.MethodPost, "/signinup/code"),
		api(APIResendCode, http.MethodPost, "/signinup/code/resend"),
		api(APIConsumeCode, http.MethodPost, "/signinup/code/consume"),
		api(APIEmailExists, http.MethodGet, "/passwordless/email/exists"),
		api(APIEmailExistsLegacy, http.MethodGet, "/signup/email/exists"),
		api(APIPhoneExists, http.MethodGet, "/passwordless/phonenumber/exists"),
		api(APIPhoneExistsLegacy, http.MethodGet, "/signup/phonenumber/exists"),
	}
}

// HandleAPIRequest dispatches apiID.
func (r *Recipe) HandleAPIRequest(ctx context.Context, apiID, tenantID string, w http.ResponseWriter, req *http.Request) error {
	opts := APIOptions{Recipe: r, Req: req, W: w}
	switch apiID {
	case APICreateCode:
		return r.handleCreateCode(ctx, tenantID, opts)
	case APIResendCode:
		return r.handleResendCode(ctx, tenantID, opts)
	case APIConsumeCode:
		return r.handleConsumeCode(ctx, tenantID, opts)
	case APIEmailExists, APIEmailExistsLegacy:
		return r.handleEmailExists(ctx, tenantID, opts)
	case APIPhoneExists, APIPhoneExistsLegacy:
		return r.handlePhoneNumberExists(ctx, tenantID, opts)
	}
	return oops.Errorf("passwordless: unknown api %q", apiID)
}

// MagicLink builds the link sent in login messages. req may be nil.
func (r *Recipe) MagicLink(req *http.Request, tenantID, preAuthSessionID, linkCode string) string {
	info := r.deps.AppInfo
	return info.Origin(req) + info.WebsiteBasePath + "/verify?preAuthSessionId=" +
		url.QueryEscape(preAuthSessionID) + "&tenantId=" + url.QueryEscape(tenantID) + "#" + linkCode
}

// CreateMagicLink starts a login attempt for contact and returns its link
// without sending anything.
func (r *Recipe) CreateMagicLink(ctx context.Context, tenantID string, contact Contact, req *http.Request) (string, error) {
	code, err := r.customUserInputCode(ctx, tenantID)
	if err != nil {
		return "", err
	}
	res, err := r.Impl.CreateCode(ctx, CreateCodeInput{Contact: r.normaliseContact(contact), UserInputCode: code, TenantID: tenantID})
	if err != nil {
		return "", err
	}
	return r.MagicLink(req, tenantID, res.PreAuthSessionID, res.LinkCode), nil
}

// SignInUp signs contact in or up without sending a code, for server side
// flows that have verified the contact some other way.
func (r *Recipe) SignInUp(ctx context.Context, tenantID string, contact Contact) (ConsumeCodeResult, error) {
	code, err := r.Impl.CreateCode(ctx, CreateCodeInput{Contact: r.normaliseContact(contact), TenantID: tenantID})
	if err != nil {
		return ConsumeCodeResult{}, err
	}
	return r.Impl.ConsumeCode(ctx, ConsumeCodeInput{
		Credentials: Credentials{
			PreAuthSessionID: code.PreAuthSessionID,
			DeviceID:         code.DeviceID,
			UserInputCode:    code.UserInputCode,
		},
		TenantID:   tenantID,
		TryLinking: authutils.TryLinkingNever,
	})
}

func (r *Recipe) normaliseContact(c Contact) Contact {
	if phone, ok := c.PhoneNumber(); ok {
		return PhoneContact(NormalisePhoneNumber(phone))
	}
	return c
}

func (r *Recipe) customUserInputCode(ctx context.Context, tenantID string) (string, error) {
	if r.cfg.GetCustomUserInputCode == nil {
		return "", nil
	}
	return r.cfg.GetCustomUserInputCode(ctx, tenantID)
}

// sendLoginMessage delivers code to contact, with the parts flowType asks
// for.
func (r *Recipe) sendLoginMessage(ctx context.Context, req *http.Request, tenantID string, contact Contact, code CodeResult, flowType FlowType, isFirstFactor bool) error {
	login := delivery.PasswordlessLogin{
		CodeLifetime:     code.CodeLifetime,
		PreAuthSessionID: code.PreAuthSessionID,
		TenantID:         tenantID,
		IsFirstFactor:    isFirstFactor,
	}
	if flowType.sendsCode() {
		login.UserInputCode = code.UserInputCode
	}
	if flowType.sendsLink() {
		login.URLWithLinkCode = r.MagicLink(req, tenantID, code.PreAuthSessionID, code.LinkCode)
	}
	if phone, ok := contact.PhoneNumber(); ok {
		return r.smsDelivery.Send(ctx, delivery.NewPasswordlessLoginSMS(phone, login))
	}
	email, _ := contact.Email()
	return r.emailDelivery.Send(ctx, delivery.NewPasswordlessLoginEmail(email, login))
}
