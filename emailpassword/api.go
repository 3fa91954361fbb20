package emailpassword

import (
	"context"
	"net/http"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// APIOptions is what an API implementation gets besides its input.
type APIOptions struct {
	Recipe *Recipe
	Req    *http.Request
	W      http.ResponseWriter
}

// FormFieldValue is one submitted form field.
type FormFieldValue struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// FieldError is a validation message for one form field.
type FieldError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// SignUpAPIInput is a validated sign up form.
type SignUpAPIInput struct {
	FormFields []FormFieldValue
	TenantID   string
	Session    session.Session
	TryLinking authutils.TryLinking
}

// SignInAPIInput is a validated sign in form.
type SignInAPIInput = SignUpAPIInput

// SignInUpResponse is OK with the user and session, EMAIL_ALREADY_EXISTS_ERROR,
// WRONG_CREDENTIALS_ERROR, or SIGN_UP_NOT_ALLOWED / SIGN_IN_NOT_ALLOWED with
// a reason.
type SignInUpResponse struct {
	Status  string
	Reason  string
	User    *recipe.User
	Session session.Session
}

// GeneratePasswordResetTokenAPIInput is a validated reset request.
type GeneratePasswordResetTokenAPIInput struct {
	FormFields []FormFieldValue
	TenantID   string
}

// PasswordResetAPIInput is a validated new password.
type PasswordResetAPIInput struct {
	FormFields []FormFieldValue
	Token      string
	TenantID   string
}

// StatusResponse is a status with an optional reason.
type StatusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// PasswordResetResponse is OK with the account whose password changed, or
// RESET_PASSWORD_INVALID_TOKEN_ERROR. Only the status is sent.
type PasswordResetResponse struct {
	Status string
	Email  string
	User   *recipe.User
	// FormFields is set for PASSWORD_POLICY_VIOLATED_ERROR.
	FormFields []FieldError
}

// ExistsResponse answers the email exists API.
type ExistsResponse struct {
	Status string `json:"status"`
	Exists bool   `json:"exists"`
}

// APIInterface is the overridable set of API operations.
type APIInterface struct {
	SignUpPOST                     func(ctx context.Context, in SignUpAPIInput, opts APIOptions) (SignInUpResponse, error)
	SignInPOST                     func(ctx context.Context, in SignInAPIInput, opts APIOptions) (SignInUpResponse, error)
	EmailExistsGET                 func(ctx context.Context, tenantID, email string, opts APIOptions) (ExistsResponse, error)
	GeneratePasswordResetTokenPOST func(ctx context.Context, in GeneratePasswordResetTokenAPIInput, opts APIOptions) (StatusResponse, error)
	PasswordResetPOST              func(ctx context.Context, in PasswordResetAPIInput, opts APIOptions) (PasswordResetResponse, error)
}

const signUpDeniedMessage = "Cannot sign up due to security reasons. Please try logging in, use a different login method or contact support. (ERR_CODE_007)"

var signUpErrorCodes = authutils.LinkingErrorCodes(authutils.ErrorCodeMap{
	{Status: authutils.StatusSignUpNotAllowed}: signUpDeniedMessage,
	{Status: authutils.StatusSignInNotAllowed}: signUpDeniedMessage,
	{Status: authutils.StatusLinkingFailed, Reason: authutils.ReasonEmailVerificationRequired}: "Cannot sign in / up due to security reasons. Please contact support. (ERR_CODE_013)",
}, "ERR_CODE_014", "ERR_CODE_015", "ERR_CODE_016")

var signInErrorCodes = authutils.LinkingErrorCodes(authutils.ErrorCodeMap{
	{Status: authutils.StatusSignInNotAllowed}: "Cannot sign in due to security reasons. Please try resetting your password, use a different login method or contact support. (ERR_CODE_008)",
	{Status: authutils.StatusLinkingFailed, Reason: authutils.ReasonEmailVerificationRequired}: "Cannot sign in / up due to security reasons. Please contact support. (ERR_CODE_009)",
}, "ERR_CODE_010", "ERR_CODE_011", "ERR_CODE_012")

const passwordResetNotAllowedMessage = "Reset password link was not created because of account take over risk. Please contact support. (ERR_CODE_001)"

// NewAPIImplementation returns the default APIs.
func NewAPIImplementation() APIInterface {
	return APIInterface{
		SignUpPOST:                     signUpPOST,
		SignInPOST:                     signInPOST,
		EmailExistsGET:                 emailExistsGET,
		GeneratePasswordResetTokenPOST: generatePasswordResetTokenPOST,
		PasswordResetPOST:              passwordResetPOST,
	}
}

func fieldValue(fields []FormFieldValue, id string) string {
	for _, f := range fields {
		if f.ID == id {
			s, _ := f.Value.(string)
			return s
		}
	}
	return ""
}

func signUpPOST(ctx context.Context, in SignUpAPIInput, opts APIOptions) (SignInUpResponse, error) {
	r := opts.Recipe
	d := r.deps
	email := fieldValue(in.FormFields, FormFieldEmail)
	password := fieldValue(in.FormFields, FormFieldPassword)

	existing, err := r.emailPasswordUser(ctx, in.TenantID, email)
	if err != nil {
		return SignInUpResponse{}, err
	}
	if existing != nil {
		return SignInUpResponse{Status: StatusEmailAlreadyExists}, nil
	}

	pre, err := d.PreAuthChecks(ctx, authutils.PreAuthInput{
		AuthenticatingAccountInfo: recipe.AccountInfoWithRecipeID{RecipeID: RecipeID, AccountInfo: recipe.AccountInfo{Email: email}},
		TenantID:                  in.TenantID,
		FactorIDs:                 []string{recipe.FactorEmailPassword},
		IsSignUp:                  true,
		Session:                   in.Session,
		TryLinking:                in.TryLinking,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if pre.Status != authutils.StatusOK {
		return deniedSignUp(pre.Denial())
	}

	res, err := r.Impl.SignUp(ctx, SignUpInput{
		Email: email, Password: password, TenantID: in.TenantID, Session: in.Session, TryLinking: in.TryLinking,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	switch res.Status {
	case StatusOK:
	case StatusEmailAlreadyExists:
		return SignInUpResponse{Status: res.Status}, nil
	default:
		return deniedSignUp(authutils.Denial{Status: res.Status, Reason: res.Reason})
	}

	post, err := d.PostAuthChecks(ctx, authutils.PostAuthInput{
		AuthenticatedUser: res.User,
		RecipeUserID:      res.RecipeUserID,
		TenantID:          in.TenantID,
		FactorID:          recipe.FactorEmailPassword,
		IsSignUp:          true,
		Session:           in.Session,
		W:                 opts.W,
		Req:               opts.Req,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if post.Status != authutils.StatusOK {
		return deniedSignUp(authutils.Denial{Status: post.Status})
	}
	return SignInUpResponse{Status: StatusOK, User: post.User, Session: post.Session}, nil
}

func signInPOST(ctx context.Context, in SignInAPIInput, opts APIOptions) (SignInUpResponse, error) {
	r := opts.Recipe
	d := r.deps
	email := fieldValue(in.FormFields, FormFieldEmail)
	password := fieldValue(in.FormFields, FormFieldPassword)

	authenticating, err := d.GetAuthenticatingUserAndAddToCurrentTenantIfRequired(ctx, authutils.AuthenticatingUserInput{
		RecipeID:    RecipeID,
		AccountInfo: recipe.AccountInfo{Email: email},
		TenantID:    in.TenantID,
		Session:     in.Session,
		CheckCredentialsOnTenant: func(ctx context.Context, tenantID string) (bool, error) {
			res, err := r.Impl.VerifyCredentials(ctx, tenantID, email, password)
			return err == nil && res.Status == StatusOK, err
		},
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if authenticating == nil {
		return SignInUpResponse{Status: StatusWrongCredentials}, nil
	}

	pre, err := d.PreAuthChecks(ctx, authutils.PreAuthInput{
		AuthenticatingAccountInfo: recipe.AccountInfoWithRecipeID{RecipeID: RecipeID, AccountInfo: recipe.AccountInfo{Email: email}},
		AuthenticatingUser:        authenticating.User,
		TenantID:                  in.TenantID,
		FactorIDs:                 []string{recipe.FactorEmailPassword},
		IsVerified:                authenticating.LoginMethod.Verified,
		Session:                   in.Session,
		TryLinking:                in.TryLinking,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if pre.Status != authutils.StatusOK {
		return deniedSignIn(pre.Denial())
	}

	res, err := r.Impl.SignIn(ctx, SignInInput{
		Email: email, Password: password, TenantID: in.TenantID, Session: in.Session, TryLinking: in.TryLinking,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	switch res.Status {
	case StatusOK:
	case StatusWrongCredentials:
		return SignInUpResponse{Status: res.Status}, nil
	default:
		return deniedSignIn(authutils.Denial{Status: res.Status, Reason: res.Reason})
	}

	post, err := d.PostAuthChecks(ctx, authutils.PostAuthInput{
		AuthenticatedUser: res.User,
		RecipeUserID:      res.RecipeUserID,
		TenantID:          in.TenantID,
		FactorID:          recipe.FactorEmailPassword,
		Session:           in.Session,
		W:                 opts.W,
		Req:               opts.Req,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if post.Status != authutils.StatusOK {
		return deniedSignIn(authutils.Denial{Status: post.Status})
	}
	return SignInUpResponse{Status: StatusOK, User: post.User, Session: post.Session}, nil
}

func deniedSignUp(d authutils.Denial) (SignInUpResponse, error) {
	mapped, err := authutils.ErrorStatusResponseWithReason(d, signUpErrorCodes, StatusSignUpNotAllowed)
	return SignInUpResponse{Status: mapped.Status, Reason: mapped.Reason}, err
}

func deniedSignIn(d authutils.Denial) (SignInUpResponse, error) {
	mapped, err := authutils.ErrorStatusResponseWithReason(d, signInErrorCodes, StatusSignInNotAllowed)
	return SignInUpResponse{Status: mapped.Status, Reason: mapped.Reason}, err
}

func emailExistsGET(ctx context.Context, tenantID, email string, opts APIOptions) (ExistsResponse, error) {
	found, err := opts.Recipe.emailPasswordUser(ctx, tenantID, email)
	return ExistsResponse{Status: StatusOK, Exists: found != nil}, err
}

func generatePasswordResetTokenPOST(ctx context.Context, in GeneratePasswordResetTokenAPIInput, opts APIOptions) (StatusResponse, error) {
	r := opts.Recipe
	email := fieldValue(in.FormFields, FormFieldEmail)

	found, err := r.emailPasswordUser(ctx, in.TenantID, email)
	if err != nil {
		return StatusResponse{}, err
	}
	if found == nil {
		r.logger.DebugContext(ctx, "password reset requested for unknown email", "tenant_id", in.TenantID)
		return StatusResponse{Status: StatusOK}, nil
	}

	if !found.User.IsPrimaryUser && !found.LoginMethod.Verified {
		allowed, err := r.resetAllowedForUnlinked(ctx, in.TenantID, found)
		if err != nil {
			return StatusResponse{}, err
		}
		if !allowed {
			return StatusResponse{Status: StatusPasswordResetNotAllowed, Reason: passwordResetNotAllowedMessage}, nil
		}
	}

	tok, err := r.Impl.CreateResetPasswordToken(ctx, in.TenantID, found.LoginMethod.RecipeUserID, email)
	if err != nil {
		return StatusResponse{}, err
	}
	if tok.Status != StatusOK {
		r.logger.DebugContext(ctx, "password reset user disappeared", "tenant_id", in.TenantID, "status", tok.Status)
		return StatusResponse{Status: StatusOK}, nil
	}
	err = r.emailDelivery.Send(ctx, delivery.NewPasswordResetEmail(delivery.PasswordReset{
		User: delivery.EmailUser{
			ID:           found.User.ID,
			RecipeUserID: found.LoginMethod.RecipeUserID.String(),
			Email:        email,
		},
		PasswordResetLink: r.PasswordResetLink(opts.Req, tok.Token, in.TenantID),
		TenantID:          in.TenantID,
	}))
	if err != nil {
		return StatusResponse{}, err
	}
	return StatusResponse{Status: StatusOK}, nil
}

// resetAllowedForUnlinked refuses a reset for an unverified login method
// that would then be linked to another primary user with the same email.
func (r *Recipe) resetAllowedForUnlinked(ctx context.Context, tenantID string, found *authutils.AuthenticatingUser) (bool, error) {
	users, err := r.deps.AccountLinking.Impl.ListUsersByAccountInfo(ctx, tenantID, recipe.AccountInfo{Email: found.LoginMethod.Email}, false)
	if err != nil {
		return false, err
	}
	var primary *recipe.User
	for i := range users {
		if users[i].IsPrimaryUser && users[i].ID != found.User.ID {
			primary = &users[i]
			break
		}
	}
	if primary == nil {
		return true, nil
	}
	info := found.LoginMethod.AccountInfo()
	info.RecipeUserID = found.LoginMethod.RecipeUserID
	should, err := r.deps.AccountLinking.ShouldDoAutomaticAccountLinking(ctx, info, primary, nil, tenantID)
	if err != nil {
		return false, err
	}
	return !should.ShouldAutomaticallyLink || !should.ShouldRequireVerification, nil
}

func passwordResetPOST(ctx context.Context, in PasswordResetAPIInput, opts APIOptions) (PasswordResetResponse, error) {
	r := opts.Recipe
	password := fieldValue(in.FormFields, FormFieldPassword)
	invalid := PasswordResetResponse{Status: StatusResetPasswordInvalidToken}

	tok, err := r.Impl.ConsumePasswordResetToken(ctx, in.TenantID, in.Token)
	if err != nil || tok.Status != StatusOK {
		if err == nil {
			return invalid, nil
		}
		return PasswordResetResponse{}, err
	}

	user, err := r.deps.AccountLinking.Impl.GetUser(ctx, tok.RecipeUserID.String())
	if err != nil {
		return PasswordResetResponse{}, err
	}
	var lm *recipe.LoginMethod
	if user != nil {
		lm = user.LoginMethod(tok.RecipeUserID)
	}
	if lm == nil {
		return invalid, nil
	}

	upd, err := r.Impl.UpdateEmailOrPassword(ctx, UpdateInput{
		RecipeUserID:              tok.RecipeUserID,
		Password:                  &password,
		TenantIDForPasswordPolicy: in.TenantID,
	})
	if err != nil {
		return PasswordResetResponse{}, err
	}
	switch upd.Status {
	case StatusOK:
	case StatusPasswordPolicyViolated:
		return PasswordResetResponse{
			Status:     StatusFieldError,
			FormFields: []FieldError{{ID: FormFieldPassword, Error: upd.FailureReason}},
		}, nil
	default:
		return invalid, nil
	}

	// The reset proved control of the inbox the token was sent to.
	if !lm.Verified && lm.HasSameEmailAs(tok.Email) {
		if err := emailverification.MarkEmailAsVerified(ctx, r.verification, in.TenantID, tok.RecipeUserID, tok.Email); err != nil {
			return PasswordResetResponse{}, err
		}
		lm.Verified = true
	}
	r.logger.DebugContext(ctx, "password reset", "tenant_id", in.TenantID, "recipe_user_id", tok.RecipeUserID)
	return PasswordResetResponse{Status: StatusOK, Email: tok.Email, User: user}, nil
}

// emailPasswordUser returns the user with an emailpassword login method for
// email on tenantID, or nil.
func (r *Recipe) emailPasswordUser(ctx context.Context, tenantID, email string) (*authutils.AuthenticatingUser, error) {
	users, err := r.deps.AccountLinking.Impl.ListUsersByAccountInfo(ctx, tenantID, recipe.AccountInfo{Email: email}, false)
	if err != nil {
		return nil, err
	}
	for i := range users {
		for j := range users[i].LoginMethods {
			lm := &users[i].LoginMethods[j]
			if lm.RecipeID == RecipeID && lm.HasSameEmailAs(email) && lm.InTenant(tenantID) {
				return &authutils.AuthenticatingUser{User: &users[i], LoginMethod: lm}, nil
			}
		}
	}
	return nil, nil
}
