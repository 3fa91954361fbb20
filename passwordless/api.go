package passwordless

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/authutils"
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

// CreateCodeAPIInput is a validated create code request.
type CreateCodeAPIInput struct {
	Contact    Contact
	TenantID   string
	Session    session.Session
	TryLinking authutils.TryLinking
}

// CreateCodeResponse is OK with the new device, GENERAL_ERROR with a
// message, or SIGN_IN_UP_NOT_ALLOWED with a reason.
type CreateCodeResponse struct {
	Status           string   `json:"status"`
	DeviceID         string   `json:"deviceId,omitempty"`
	PreAuthSessionID string   `json:"preAuthSessionId,omitempty"`
	FlowType         FlowType `json:"flowType,omitempty"`
	Message          string   `json:"message,omitempty"`
	Reason           string   `json:"reason,omitempty"`
}

// ResendCodeAPIInput is a validated resend request.
type ResendCodeAPIInput struct {
	DeviceID         string
	PreAuthSessionID string
	TenantID         string
	Session          session.Session
	TryLinking       authutils.TryLinking
}

// ResendCodeResponse is OK, RESTART_FLOW_ERROR or GENERAL_ERROR.
type ResendCodeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConsumeCodeAPIInput is a validated consume request.
type ConsumeCodeAPIInput struct {
	Credentials Credentials
	TenantID    string
	Session     session.Session
	TryLinking  authutils.TryLinking
}

// ConsumeCodeResponse is OK with the signed in user and session, one of the
// code statuses, or SIGN_IN_UP_NOT_ALLOWED with a reason.
type ConsumeCodeResponse struct {
	Status                      string
	CreatedNewRecipeUser        bool
	User                        *recipe.User
	Session                     session.Session
	FailedCodeInputAttemptCount int
	MaximumCodeInputAttempts    int
	Reason                      string
}

// ExistsResponse answers the exists APIs.
type ExistsResponse struct {
	Status string `json:"status"`
	Exists bool   `json:"exists"`
}

// APIInterface is the overridable set of API operations.
type APIInterface struct {
	CreateCodePOST       func(ctx context.Context, in CreateCodeAPIInput, opts APIOptions) (CreateCodeResponse, error)
	ResendCodePOST       func(ctx context.Context, in ResendCodeAPIInput, opts APIOptions) (ResendCodeResponse, error)
	ConsumeCodePOST      func(ctx context.Context, in ConsumeCodeAPIInput, opts APIOptions) (ConsumeCodeResponse, error)
	EmailExistsGET       func(ctx context.Context, tenantID, email string, opts APIOptions) (ExistsResponse, error)
	PhoneNumberExistsGET func(ctx context.Context, tenantID, phoneNumber string, opts APIOptions) (ExistsResponse, error)
}

// errorCodes holds the messages for sign in denials. The codes are part of
// the client contract.
var errorCodes = authutils.LinkingErrorCodes(authutils.ErrorCodeMap{
	{Status: authutils.StatusSignUpNotAllowed}: authutils.SignInUpDeniedMessage("ERR_CODE_002"),
	{Status: authutils.StatusSignInNotAllowed}: authutils.SignInUpDeniedMessage("ERR_CODE_003"),
}, "ERR_CODE_017", "ERR_CODE_018", "ERR_CODE_019")

const (
	resendAttempts   = 3
	resendRetryDelay = time.Millisecond
)

var errCodeCollision = errors.New("user input code already used")

// NewAPIImplementation returns the default APIs.
func NewAPIImplementation() APIInterface {
	return APIInterface{
		CreateCodePOST:       createCodePOST,
		ResendCodePOST:       resendCodePOST,
		ConsumeCodePOST:      consumeCodePOST,
		EmailExistsGET:       emailExistsGET,
		PhoneNumberExistsGET: phoneNumberExistsGET,
	}
}

func createCodePOST(ctx context.Context, in CreateCodeAPIInput, opts APIOptions) (CreateCodeResponse, error) {
	r := opts.Recipe
	existing, err := r.userWithContact(ctx, in.TenantID, in.Contact)
	if err != nil {
		return CreateCodeResponse{}, err
	}

	pre, err := r.deps.PreAuthChecks(ctx, authutils.PreAuthInput{
		AuthenticatingAccountInfo:   in.Contact.withRecipeID(),
		AuthenticatingUser:          userOf(existing),
		TenantID:                    in.TenantID,
		FactorIDs:                   r.cfg.factorsFor(in.Contact, in.Session != nil),
		IsSignUp:                    existing == nil,
		IsVerified:                  existing == nil || existing.LoginMethod.Verified,
		SignInVerifiesLoginMethod:   true,
		SkipSessionUserUpdateInCore: true,
		Session:                     in.Session,
		TryLinking:                  in.TryLinking,
	})
	if err != nil {
		return CreateCodeResponse{}, err
	}
	if pre.Status != authutils.StatusOK {
		mapped, err := authutils.ErrorStatusResponseWithReason(pre.Denial(), errorCodes, authutils.StatusSignInUpNotAllowed)
		return CreateCodeResponse{Status: mapped.Status, Reason: mapped.Reason}, err
	}

	userInputCode, err := r.customUserInputCode(ctx, in.TenantID)
	if err != nil {
		return CreateCodeResponse{}, err
	}
	code, err := r.Impl.CreateCode(ctx, CreateCodeInput{Contact: in.Contact, UserInputCode: userInputCode, TenantID: in.TenantID})
	if err != nil {
		return CreateCodeResponse{}, err
	}
	if err := r.sendLoginMessage(ctx, opts.Req, in.TenantID, in.Contact, code, flowTypeFor(pre.ValidFactorIDs), pre.IsFirstFactor); err != nil {
		return CreateCodeResponse{}, err
	}
	return CreateCodeResponse{
		Status:           StatusOK,
		DeviceID:         code.DeviceID,
		PreAuthSessionID: code.PreAuthSessionID,
		FlowType:         r.cfg.FlowType,
	}, nil
}

func resendCodePOST(ctx context.Context, in ResendCodeAPIInput, opts APIOptions) (ResendCodeResponse, error) {
	r := opts.Recipe
	device, err := r.Impl.ListCodesByDeviceID(ctx, in.TenantID, in.DeviceID)
	if err != nil {
		return ResendCodeResponse{}, err
	}
	if device == nil || device.PreAuthSessionID != in.PreAuthSessionID {
		return ResendCodeResponse{Status: StatusRestartFlow}, nil
	}
	contact := device.Contact()
	_, isPhone := contact.PhoneNumber()
	if (isPhone && !r.cfg.ContactMethod.allowsPhone()) || (!isPhone && !r.cfg.ContactMethod.allowsEmail()) {
		return ResendCodeResponse{Status: StatusRestartFlow}, nil
	}

	existing, err := r.userWithContact(ctx, in.TenantID, contact)
	if err != nil {
		return ResendCodeResponse{}, err
	}
	authType, err := r.deps.CheckAuthTypeAndLinkingStatus(ctx, in.Session, in.TryLinking, contact.withRecipeID(), userOf(existing), true)
	if err != nil {
		return ResendCodeResponse{}, err
	}
	if authType.Status != authutils.StatusOK {
		// The client has to start over, the linking reason is not reported.
		return ResendCodeResponse{Status: StatusRestartFlow}, nil
	}

	attempts := 0
	var code CodeResult
	backoff := retry.WithMaxRetries(resendAttempts-1, retry.NewConstant(resendRetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		userInputCode, err := r.customUserInputCode(ctx, in.TenantID)
		if err != nil {
			return err
		}
		res, err := r.Impl.CreateNewCodeForDevice(ctx, in.TenantID, in.DeviceID, userInputCode)
		if err != nil {
			return err
		}
		if res.Status == StatusCodeAlreadyUsed {
			r.logger.DebugContext(ctx, "resend collision, retrying",
				"tenant_id", in.TenantID, "device_id", in.DeviceID, "attempt", attempts)
			return retry.RetryableError(errCodeCollision)
		}
		code = res
		return nil
	})
	if errors.Is(err, errCodeCollision) {
		return ResendCodeResponse{Status: StatusGeneralError, Message: "Failed to generate a one time code. Please try again"}, nil
	}
	if err != nil {
		return ResendCodeResponse{}, err
	}
	if code.Status != StatusOK {
		return ResendCodeResponse{Status: code.Status}, nil
	}

	flowType := flowTypeFor(r.cfg.factorsFor(contact, !authType.IsFirstFactor))
	if err := r.sendLoginMessage(ctx, opts.Req, in.TenantID, contact, code, flowType, authType.IsFirstFactor); err != nil {
		return ResendCodeResponse{}, err
	}
	return ResendCodeResponse{Status: StatusOK}, nil
}

func consumeCodePOST(ctx context.Context, in ConsumeCodeAPIInput, opts APIOptions) (ConsumeCodeResponse, error) {
	r := opts.Recipe
	d := r.deps
	device, err := r.Impl.ListCodesByPreAuthSessionID(ctx, in.TenantID, in.Credentials.PreAuthSessionID)
	if err != nil {
		return ConsumeCodeResponse{}, err
	}
	if device == nil {
		return ConsumeCodeResponse{Status: StatusRestartFlow}, nil
	}
	contact := device.Contact()

	// Checking the code counts as an attempt in the core, so it happens at
	// most once per request.
	var (
		checkOnce sync.Once
		checked   bool
		check     CheckCodeResult
		checkErr  error
	)
	checkCredentials := func(ctx context.Context, _ string) (bool, error) {
		checkOnce.Do(func() {
			checked = true
			check, checkErr = r.Impl.CheckCode(ctx, in.TenantID, in.Credentials)
		})
		return check.Status == StatusOK, checkErr
	}

	authenticating, err := d.GetAuthenticatingUserAndAddToCurrentTenantIfRequired(ctx, authutils.AuthenticatingUserInput{
		RecipeID:                 RecipeID,
		AccountInfo:              contact.AccountInfo(),
		TenantID:                 in.TenantID,
		Session:                  in.Session,
		CheckCredentialsOnTenant: checkCredentials,
	})
	if err != nil {
		return ConsumeCodeResponse{}, err
	}

	if email, ok := contact.Email(); ok && in.Session != nil {
		if err := r.verifySessionUserEmail(ctx, in.TenantID, in.Session, email, checkCredentials); err != nil {
			return ConsumeCodeResponse{}, err
		}
	}

	factorID := factorForCredentials(in.Credentials, *device)
	isSignUp := authenticating == nil
	pre, err := d.PreAuthChecks(ctx, authutils.PreAuthInput{
		AuthenticatingAccountInfo: contact.withRecipeID(),
		AuthenticatingUser:        userOf(authenticating),
		TenantID:                  in.TenantID,
		FactorIDs:                 []string{factorID},
		IsSignUp:                  isSignUp,
		IsVerified:                isSignUp || authenticating.LoginMethod.Verified,
		SignInVerifiesLoginMethod: true,
		Session:                   in.Session,
		TryLinking:                in.TryLinking,
	})
	if err != nil {
		return ConsumeCodeResponse{}, err
	}
	if pre.Status != authutils.StatusOK {
		return deniedConsume(pre.Denial())
	}

	if checked {
		if checkErr != nil {
			return ConsumeCodeResponse{}, checkErr
		}
		if check.Status != StatusOK {
			return ConsumeCodeResponse{
				Status:                      check.Status,
				FailedCodeInputAttemptCount: check.FailedCodeInputAttemptCount,
				MaximumCodeInputAttempts:    check.MaximumCodeInputAttempts,
			}, nil
		}
	}

	res, err := r.Impl.ConsumeCode(ctx, ConsumeCodeInput{
		Credentials: in.Credentials,
		TenantID:    in.TenantID,
		Session:     in.Session,
		TryLinking:  in.TryLinking,
	})
	if err != nil {
		return ConsumeCodeResponse{}, err
	}
	switch res.Status {
	case StatusOK:
	case StatusRestartFlow, StatusIncorrectCode, StatusExpiredCode:
		return ConsumeCodeResponse{
			Status:                      res.Status,
			FailedCodeInputAttemptCount: res.FailedCodeInputAttemptCount,
			MaximumCodeInputAttempts:    res.MaximumCodeInputAttempts,
		}, nil
	default:
		return deniedConsume(authutils.Denial{Status: res.Status, Reason: res.Reason})
	}

	post, err := d.PostAuthChecks(ctx, authutils.PostAuthInput{
		AuthenticatedUser: res.User,
		RecipeUserID:      res.RecipeUserID,
		TenantID:          in.TenantID,
		FactorID:          factorID,
		IsSignUp:          isSignUp,
		Session:           in.Session,
		W:                 opts.W,
		Req:               opts.Req,
	})
	if err != nil {
		return ConsumeCodeResponse{}, err
	}
	if post.Status != authutils.StatusOK {
		return deniedConsume(authutils.Denial{Status: post.Status})
	}
	return ConsumeCodeResponse{
		Status:               StatusOK,
		CreatedNewRecipeUser: res.CreatedNewRecipeUser,
		User:                 post.User,
		Session:              post.Session,
	}, nil
}

func deniedConsume(d authutils.Denial) (ConsumeCodeResponse, error) {
	mapped, err := authutils.ErrorStatusResponseWithReason(d, errorCodes, authutils.StatusSignInUpNotAllowed)
	return ConsumeCodeResponse{Status: mapped.Status, Reason: mapped.Reason}, err
}

// verifySessionUserEmail marks email verified on the session user's login
// methods that carry it unverified, once the code checks out. It runs before
// the consume so linking sees the new state.
func (r *Recipe) verifySessionUserEmail(ctx context.Context, tenantID string, s session.Session, email string, checkCredentials func(context.Context, string) (bool, error)) error {
	sessionUser, err := r.deps.AccountLinking.Impl.GetUser(ctx, s.UserID())
	if err != nil {
		return err
	}
	if sessionUser == nil {
		return recipe.NewUnauthorisedError("Session user not found")
	}
	for _, lm := range sessionUser.LoginMethods {
		if lm.Verified || !lm.HasSameEmailAs(email) {
			continue
		}
		ok, err := checkCredentials(ctx, tenantID)
		if err != nil || !ok {
			return err
		}
		if err := emailverification.MarkEmailAsVerified(ctx, r.verification, tenantID, lm.RecipeUserID, email); err != nil {
			return err
		}
		r.logger.DebugContext(ctx, "verified session user email before consume",
			"tenant_id", tenantID, "recipe_user_id", lm.RecipeUserID)
	}
	return nil
}

func emailExistsGET(ctx context.Context, tenantID, email string, opts APIOptions) (ExistsResponse, error) {
	exists, err := opts.Recipe.contactExists(ctx, tenantID, EmailContact(email))
	return ExistsResponse{Status: StatusOK, Exists: exists}, err
}

func phoneNumberExistsGET(ctx context.Context, tenantID, phoneNumber string, opts APIOptions) (ExistsResponse, error) {
	exists, err := opts.Recipe.contactExists(ctx, tenantID, PhoneContact(phoneNumber))
	return ExistsResponse{Status: StatusOK, Exists: exists}, err
}

func (r *Recipe) contactExists(ctx context.Context, tenantID string, contact Contact) (bool, error) {
	users, err := r.deps.AccountLinking.Impl.ListUsersByAccountInfo(ctx, tenantID, contact.AccountInfo(), false)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		for _, lm := range u.LoginMethods {
			if contact.matches(lm) {
				return true, nil
			}
		}
	}
	return false, nil
}

// userWithContact returns the user whose passwordless login method uses
// contact, or nil.
func (r *Recipe) userWithContact(ctx context.Context, tenantID string, contact Contact) (*authutils.AuthenticatingUser, error) {
	users, err := r.deps.AccountLinking.Impl.ListUsersByAccountInfo(ctx, tenantID, contact.AccountInfo(), false)
	if err != nil {
		return nil, err
	}
	var found *authutils.AuthenticatingUser
	for i := range users {
		for j := range users[i].LoginMethods {
			if !contact.matches(users[i].LoginMethods[j]) {
				continue
			}
			if found != nil {
				return nil, oops.Code(accountlinking.CodeMultipleUsers).
					With("tenant_id", tenantID).
					Errorf("more than one user has a passwordless login method for the contact")
			}
			found = &authutils.AuthenticatingUser{User: &users[i], LoginMethod: &users[i].LoginMethods[j]}
		}
	}
	return found, nil
}

func userOf(a *authutils.AuthenticatingUser) *recipe.User {
	if a == nil {
		return nil
	}
	return a.User
}
