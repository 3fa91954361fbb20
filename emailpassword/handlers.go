package emailpassword

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/recipe"
)

const userResponseVersion = "1.18"

// fieldErrorResponse is the body for FIELD_ERROR.
type fieldErrorResponse struct {
	Status     string       `json:"status"`
	FormFields []FieldError `json:"formFields"`
}

// readFormFields decodes the formFields array of the body. extra receives
// the other body fields.
func readFormFields(opts APIOptions, extra map[string]json.RawMessage) ([]FormFieldValue, error) {
	body := map[string]json.RawMessage{}
	if err := recipe.DecodeJSONBody(opts.Req, &body); err != nil {
		return nil, err
	}
	raw, ok := body["formFields"]
	if !ok {
		return nil, recipe.NewBadInputError("Missing input param: formFields")
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, recipe.NewBadInputError("formFields must be an array")
	}
	fields := make([]FormFieldValue, 0, len(items))
	for _, item := range items {
		id, ok := item["id"].(string)
		value, hasValue := item["value"]
		if !ok || !hasValue {
			return nil, recipe.NewBadInputError("All elements of formFields must contain an 'id' and 'value' field")
		}
		if id == FormFieldEmail {
			if s, ok := value.(string); ok {
				value = strings.TrimSpace(s)
			}
		}
		fields = append(fields, FormFieldValue{ID: id, Value: value})
	}
	for k, v := range body {
		if k != "formFields" && extra != nil {
			extra[k] = v
		}
	}
	return fields, nil
}

// validateFormFields checks input against the configured fields. Fields
// that are not configured are ignored.
func validateFormFields(ctx context.Context, configured []FormField, input []FormFieldValue, tenantID string) ([]FieldError, error) {
	var errs []FieldError
	for _, f := range configured {
		var value any
		found := false
		for _, in := range input {
			if in.ID == f.ID {
				value, found = in.Value, true
				break
			}
		}
		if s, ok := value.(string); value == nil || ok && s == "" {
			found = false
		}
		if !found {
			if !f.Optional {
				errs = append(errs, FieldError{ID: f.ID, Error: "Field is not optional"})
			}
			continue
		}
		msg, err := f.Validate(ctx, value, tenantID)
		if err != nil {
			return nil, err
		}
		if msg != "" {
			errs = append(errs, FieldError{ID: f.ID, Error: msg})
		}
	}
	return errs, nil
}

// readValidForm reads and validates the form. A nil result with a nil error
// means the field errors were already sent.
func (r *Recipe) readValidForm(ctx context.Context, tenantID string, configured []FormField, opts APIOptions, extra map[string]json.RawMessage) ([]FormFieldValue, error) {
	fields, err := readFormFields(opts, extra)
	if err != nil {
		return nil, err
	}
	errs, err := validateFormFields(ctx, configured, fields, tenantID)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, recipe.Send200(opts.W, fieldErrorResponse{Status: StatusFieldError, FormFields: errs})
	}
	return fields, nil
}

func (r *Recipe) readLinkingForm(ctx context.Context, tenantID string, configured []FormField, opts APIOptions) ([]FormFieldValue, authutils.TryLinking, error) {
	extra := map[string]json.RawMessage{}
	fields, err := r.readValidForm(ctx, tenantID, configured, opts, extra)
	if err != nil || fields == nil {
		return nil, 0, err
	}
	var flag *bool
	if raw, ok := extra["shouldTryLinkingWithSessionUser"]; ok {
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, 0, recipe.NewBadInputError("shouldTryLinkingWithSessionUser must be a boolean")
		}
		flag = &v
	}
	return fields, authutils.TryLinkingFrom(flag), nil
}

func (r *Recipe) handleSignUp(ctx context.Context, tenantID string, opts APIOptions) error {
	fields, try, err := r.readLinkingForm(ctx, tenantID, r.cfg.signUpFields, opts)
	if err != nil || fields == nil {
		return err
	}
	s, err := r.deps.LoadSessionInAuthAPIIfNeeded(opts.W, opts.Req, try)
	if err != nil {
		return err
	}
	if s != nil {
		tenantID = s.TenantID()
	}
	res, err := r.API.SignUpPOST(ctx, SignUpAPIInput{FormFields: fields, TenantID: tenantID, Session: s, TryLinking: try}, opts)
	if err != nil {
		return err
	}
	if res.Status == StatusEmailAlreadyExists {
		// Sign up reports an existing email as a field error.
		return recipe.Send200(opts.W, fieldErrorResponse{
			Status:     StatusFieldError,
			FormFields: []FieldError{{ID: FormFieldEmail, Error: "This email already exists. Please sign in instead."}},
		})
	}
	return recipe.Send200(opts.W, signInUpResponseBody(res, recipe.FDIVersionAtLeast(opts.Req, userResponseVersion)))
}

func (r *Recipe) handleSignIn(ctx context.Context, tenantID string, opts APIOptions) error {
	fields, try, err := r.readLinkingForm(ctx, tenantID, r.cfg.signInFields, opts)
	if err != nil || fields == nil {
		return err
	}
	s, err := r.deps.LoadSessionInAuthAPIIfNeeded(opts.W, opts.Req, try)
	if err != nil {
		return err
	}
	if s != nil {
		tenantID = s.TenantID()
	}
	res, err := r.API.SignInPOST(ctx, SignInAPIInput{FormFields: fields, TenantID: tenantID, Session: s, TryLinking: try}, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, signInUpResponseBody(res, recipe.FDIVersionAtLeast(opts.Req, userResponseVersion)))
}

// signInUpResponseBody shapes res for the wire. The session stays server
// side.
func signInUpResponseBody(res SignInUpResponse, fullUser bool) map[string]any {
	out := map[string]any{"status": res.Status}
	switch res.Status {
	case StatusOK:
		if fullUser {
			out["user"] = res.User
			return out
		}
		out["user"] = legacyUser(res)
	case StatusWrongCredentials:
	default:
		out["reason"] = res.Reason
	}
	return out
}

func legacyUser(res SignInUpResponse) map[string]any {
	user := res.User
	out := map[string]any{"id": user.ID, "timeJoined": user.TimeJoined, "tenantIds": user.TenantIDs}
	var lm *recipe.LoginMethod
	if res.Session != nil {
		lm = user.LoginMethod(res.Session.RecipeUserID())
	}
	if lm == nil {
		return out
	}
	out["timeJoined"] = lm.TimeJoined
	out["tenantIds"] = lm.TenantIDs
	out["email"] = lm.Email
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

func (r *Recipe) emailField() []FormField {
	for _, f := range r.cfg.signUpFields {
		if f.ID == FormFieldEmail {
			return []FormField{f}
		}
	}
	return []FormField{{ID: FormFieldEmail, Validate: DefaultValidateEmail}}
}

func (r *Recipe) passwordField() []FormField {
	return []FormField{{ID: FormFieldPassword, Validate: r.cfg.passwordValidator()}}
}

func (r *Recipe) handleGeneratePasswordResetToken(ctx context.Context, tenantID string, opts APIOptions) error {
	fields, err := r.readValidForm(ctx, tenantID, r.emailField(), opts, nil)
	if err != nil || fields == nil {
		return err
	}
	res, err := r.API.GeneratePasswordResetTokenPOST(ctx, GeneratePasswordResetTokenAPIInput{FormFields: fields, TenantID: tenantID}, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, res)
}

func (r *Recipe) handlePasswordReset(ctx context.Context, tenantID string, opts APIOptions) error {
	extra := map[string]json.RawMessage{}
	fields, err := r.readValidForm(ctx, tenantID, r.passwordField(), opts, extra)
	if err != nil || fields == nil {
		return err
	}
	var token string
	if raw, ok := extra["token"]; ok {
		if err := json.Unmarshal(raw, &token); err != nil {
			return recipe.NewBadInputError("The password reset token must be a string")
		}
	}
	if token == "" {
		return recipe.NewBadInputError("Please provide the password reset token")
	}
	res, err := r.API.PasswordResetPOST(ctx, PasswordResetAPIInput{FormFields: fields, Token: token, TenantID: tenantID}, opts)
	if err != nil {
		return err
	}
	if res.Status == StatusFieldError {
		return recipe.Send200(opts.W, fieldErrorResponse{Status: res.Status, FormFields: res.FormFields})
	}
	return recipe.Send200(opts.W, StatusResponse{Status: res.Status})
}
