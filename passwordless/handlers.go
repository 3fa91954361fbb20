package passwordless

import (
	"context"
	"strings"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/recipe"
)

// userResponseVersion is the first frontend version that expects the full
// user object in the consume response.
const userResponseVersion = "1.18"

func (r *Recipe) handleCreateCode(ctx context.Context, tenantID string, opts APIOptions) error {
	var body struct {
		Email                           *string `json:"email"`
		PhoneNumber                     *string `json:"phoneNumber"`
		ShouldTryLinkingWithSessionUser *bool   `json:"shouldTryLinkingWithSessionUser"`
	}
	if err := recipe.DecodeJSONBody(opts.Req, &body); err != nil {
		return err
	}
	if (body.Email == nil) == (body.PhoneNumber == nil) {
		return recipe.NewBadInputError("Please provide exactly one of email or phoneNumber")
	}
	if body.Email == nil && r.cfg.ContactMethod == ContactMethodEmail {
		return recipe.NewBadInputError(`Please provide an email since you have set the contactMethod to "EMAIL"`)
	}
	if body.PhoneNumber == nil && r.cfg.ContactMethod == ContactMethodPhone {
		return recipe.NewBadInputError(`Please provide a phoneNumber since you have set the contactMethod to "PHONE"`)
	}

	var contact Contact
	if body.Email != nil {
		email := strings.TrimSpace(*body.Email)
		msg, err := r.cfg.ValidateEmailAddress(ctx, email, tenantID)
		if err != nil {
			return err
		}
		if msg != "" {
			return recipe.Send200(opts.W, CreateCodeResponse{Status: StatusGeneralError, Message: msg})
		}
		contact = EmailContact(email)
	} else {
		msg, err := r.cfg.ValidatePhoneNumber(ctx, *body.PhoneNumber, tenantID)
		if err != nil {
			return err
		}
		if msg != "" {
			return recipe.Send200(opts.W, CreateCodeResponse{Status: StatusGeneralError, Message: msg})
		}
		contact = PhoneContact(NormalisePhoneNumber(*body.PhoneNumber))
	}

	try := authutils.TryLinkingFrom(body.ShouldTryLinkingWithSessionUser)
	s, err := r.deps.LoadSessionInAuthAPIIfNeeded(opts.W, opts.Req, try)
	if err != nil {
		return err
	}
	if s != nil {
		tenantID = s.TenantID()
	}
	res, err := r.API.CreateCodePOST(ctx, CreateCodeAPIInput{Contact: contact, TenantID: tenantID, Session: s, TryLinking: try}, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, res)
}

func (r *Recipe) handleResendCode(ctx context.Context, tenantID string, opts APIOptions) error {
	var body struct {
		DeviceID                        string `json:"deviceId"`
		PreAuthSessionID                string `json:"preAuthSessionId"`
		ShouldTryLinkingWithSessionUser *bool  `json:"shouldTryLinkingWithSessionUser"`
	}
	if err := recipe.DecodeJSONBody(opts.Req, &body); err != nil {
		return err
	}
	if body.PreAuthSessionID == "" {
		return recipe.NewBadInputError("Please provide preAuthSessionId")
	}
	if body.DeviceID == "" {
		return recipe.NewBadInputError("Please provide a deviceId")
	}

	try := authutils.TryLinkingFrom(body.ShouldTryLinkingWithSessionUser)
	s, err := r.deps.LoadSessionInAuthAPIIfNeeded(opts.W, opts.Req, try)
	if err != nil {
		return err
	}
	if s != nil {
		tenantID = s.TenantID()
	}
	res, err := r.API.ResendCodePOST(ctx, ResendCodeAPIInput{
		DeviceID:         body.DeviceID,
		PreAuthSessionID: body.PreAuthSessionID,
		TenantID:         tenantID,
		Session:          s,
		TryLinking:       try,
	}, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, res)
}

func (r *Recipe) handleConsumeCode(ctx context.Context, tenantID string, opts APIOptions) error {
	var body struct {
		PreAuthSessionID                string `json:"preAuthSessionId"`
		LinkCode                        string `json:"linkCode"`
		DeviceID                        string `json:"deviceId"`
		UserInputCode                   string `json:"userInputCode"`
		ShouldTryLinkingWithSessionUser *bool  `json:"shouldTryLinkingWithSessionUser"`
	}
	if err := recipe.DecodeJSONBody(opts.Req, &body); err != nil {
		return err
	}
	creds := Credentials{
		PreAuthSessionID: body.PreAuthSessionID,
		LinkCode:         body.LinkCode,
		DeviceID:         body.DeviceID,
		UserInputCode:    body.UserInputCode,
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	try := authutils.TryLinkingFrom(body.ShouldTryLinkingWithSessionUser)
	s, err := r.deps.LoadSessionInAuthAPIIfNeeded(opts.W, opts.Req, try)
	if err != nil {
		return err
	}
	if s != nil {
		tenantID = s.TenantID()
	}
	res, err := r.API.ConsumeCodePOST(ctx, ConsumeCodeAPIInput{Credentials: creds, TenantID: tenantID, Session: s, TryLinking: try}, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, consumeResponseBody(res, recipe.FDIVersionAtLeast(opts.Req, userResponseVersion)))
}

// consumeResponseBody shapes res for the wire. The session travels in
// headers and cookies, never in the body.
func consumeResponseBody(res ConsumeCodeResponse, fullUser bool) map[string]any {
	out := map[string]any{"status": res.Status}
	switch res.Status {
	case StatusOK:
		if fullUser {
			out["createdNewRecipeUser"] = res.CreatedNewRecipeUser
			out["user"] = res.User
			return out
		}
		out["createdNewUser"] = res.CreatedNewRecipeUser
		out["user"] = legacyUser(res)
	case StatusIncorrectCode, StatusExpiredCode:
		out["failedCodeInputAttemptCount"] = res.FailedCodeInputAttemptCount
		out["maximumCodeInputAttempts"] = res.MaximumCodeInputAttempts
	default:
		if res.Reason != "" {
			out["reason"] = res.Reason
		}
	}
	return out
}

// legacyUser is the single login method view older frontends expect.
func legacyUser(res ConsumeCodeResponse) map[string]any {
	user := res.User
	var lm *recipe.LoginMethod
	if res.Session != nil {
		lm = user.LoginMethod(res.Session.RecipeUserID())
	}
	if lm == nil && len(user.LoginMethods) > 0 {
		lm = &user.LoginMethods[0]
	}
	out := map[string]any{"id": user.ID, "timeJoined": user.TimeJoined, "tenantIds": user.TenantIDs}
	if lm == nil {
		return out
	}
	out["timeJoined"] = lm.TimeJoined
	out["tenantIds"] = lm.TenantIDs
	if lm.Email != "" {
		out["email"] = lm.Email
	}
	if lm.PhoneNumber != "" {
		out["phoneNumber"] = lm.PhoneNumber
	}
	return out
}

func (r *Recipe) handleEmailExists(ctx context.Context, tenantID string, opts APIOptions) error {
	email := strings.TrimSpace(opts.Req.URL.Query().Get("email"))
	if email == "" {
		return recipe.NewBadInputError("Please provide the email as a GET param")
	}
	res, err := r.API.EmailExistsGET(ctx, tenantID, email, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, res)
}

func (r *Recipe) handlePhoneNumberExists(ctx context.Context, tenantID string, opts APIOptions) error {
	phone := strings.TrimSpace(opts.Req.URL.Query().Get("phoneNumber"))
	if phone == "" {
		return recipe.NewBadInputError("Please provide the phoneNumber as a GET param")
	}
	res, err := r.API.PhoneNumberExistsGET(ctx, tenantID, NormalisePhoneNumber(phone), opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, res)
}
