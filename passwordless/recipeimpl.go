package passwordless

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// CreateCodeInput starts a new login attempt. UserInputCode is optional.
type CreateCodeInput struct {
	Contact       Contact
	UserInputCode string
	TenantID      string
}

// ConsumeCodeInput completes a login attempt. The session, if any, is the
// one the new login method may be linked to.
type ConsumeCodeInput struct {
	Credentials Credentials
	TenantID    string
	Session     session.Session
	TryLinking  authutils.TryLinking
}

// RecipeInterface is the overridable set of passwordless operations.
type RecipeInterface struct {
	CreateCode             func(ctx context.Context, in CreateCodeInput) (CodeResult, error)
	CreateNewCodeForDevice func(ctx context.Context, tenantID, deviceID, userInputCode string) (CodeResult, error)
	CheckCode              func(ctx context.Context, tenantID string, creds Credentials) (CheckCodeResult, error)
	ConsumeCode            func(ctx context.Context, in ConsumeCodeInput) (ConsumeCodeResult, error)

	ListCodesByDeviceID         func(ctx context.Context, tenantID, deviceID string) (*Device, error)
	ListCodesByPreAuthSessionID func(ctx context.Context, tenantID, preAuthSessionID string) (*Device, error)
	ListCodesByEmail            func(ctx context.Context, tenantID, email string) ([]Device, error)
	ListCodesByPhoneNumber      func(ctx context.Context, tenantID, phoneNumber string) ([]Device, error)

	RevokeCode     func(ctx context.Context, tenantID string, in RevokeCodeInput) error
	RevokeAllCodes func(ctx context.Context, tenantID string, contact Contact) error
	UpdateUser     func(ctx context.Context, in UpdateUserInput) (UpdateUserResult, error)
}

// verificationFor returns the configured email verification operations, or
// plain core backed ones when the app has no email verification recipe.
func verificationFor(q *querier.Querier, deps *authutils.Deps) emailverification.RecipeInterface {
	if deps.EmailVerification != nil {
		return deps.EmailVerification.Impl
	}
	return emailverification.NewRecipeImplementation(q.WithRecipeID(emailverification.RecipeID), nil)
}

// NewRecipeImplementation returns the core backed implementation. A
// consumed email is marked verified through the email verification recipe
// in deps, or directly against the core when there is none.
func NewRecipeImplementation(q *querier.Querier, deps *authutils.Deps, logger *slog.Logger) RecipeInterface {
	verification := verificationFor(q, deps)

	listCodes := func(ctx context.Context, tenantID string, params url.Values) ([]Device, error) {
		path := querier.TenantPath(tenantID, "/recipe/signinup/codes")
		var resp struct {
			Status  string   `json:"status"`
			Devices []Device `json:"devices"`
		}
		if err := q.SendGetRequest(ctx, path, params, &resp); err != nil {
			return nil, err
		}
		if resp.Status != StatusOK {
			return nil, querier.UnknownStatus(path, resp.Status)
		}
		return resp.Devices, nil
	}
	firstDevice := func(devices []Device, err error) (*Device, error) {
		if err != nil || len(devices) == 0 {
			return nil, err
		}
		return &devices[0], nil
	}
	postStatus := func(ctx context.Context, path querier.Path, body map[string]any) error {
		var resp struct {
			Status string `json:"status"`
		}
		if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
			return err
		}
		if resp.Status != StatusOK {
			return querier.UnknownStatus(path, resp.Status)
		}
		return nil
	}

	return RecipeInterface{
		CreateCode: func(ctx context.Context, in CreateCodeInput) (CodeResult, error) {
			if in.Contact.IsZero() {
				return CodeResult{}, oops.Errorf("passwordless: create code needs an email or a phone number")
			}
			path := querier.TenantPath(in.TenantID, "/recipe/signinup/code")
			body := in.Contact.body()
			if in.UserInputCode != "" {
				body["userInputCode"] = in.UserInputCode
			}
			var res CodeResult
			if err := q.SendPostRequest(ctx, path, body, &res); err != nil {
				return CodeResult{}, err
			}
			if res.Status != StatusOK {
				return CodeResult{}, querier.UnknownStatus(path, res.Status)
			}
			logger.DebugContext(ctx, "code created",
				"tenant_id", in.TenantID, "device_id", res.DeviceID, "pre_auth_session_id", res.PreAuthSessionID)
			return res, nil
		},

		CreateNewCodeForDevice: func(ctx context.Context, tenantID, deviceID, userInputCode string) (CodeResult, error) {
			path := querier.TenantPath(tenantID, "/recipe/signinup/code")
			body := map[string]any{"deviceId": deviceID}
			if userInputCode != "" {
				body["userInputCode"] = userInputCode
			}
			var res CodeResult
			if err := q.SendPostRequest(ctx, path, body, &res); err != nil {
				return CodeResult{}, err
			}
			switch res.Status {
			case StatusOK:
				logger.DebugContext(ctx, "code created for device",
					"tenant_id", tenantID, "device_id", deviceID, "pre_auth_session_id", res.PreAuthSessionID)
				return res, nil
			case StatusRestartFlow, StatusCodeAlreadyUsed:
				return CodeResult{Status: res.Status}, nil
			}
			return CodeResult{}, querier.UnknownStatus(path, res.Status)
		},

		CheckCode: func(ctx context.Context, tenantID string, creds Credentials) (CheckCodeResult, error) {
			path := querier.TenantPath(tenantID, "/recipe/signinup/code/check")
			var res CheckCodeResult
			if err := q.SendPostRequest(ctx, path, creds.body(), &res); err != nil {
				return CheckCodeResult{}, err
			}
			switch res.Status {
			case StatusOK, StatusRestartFlow, StatusIncorrectCode, StatusExpiredCode:
				return res, nil
			}
			return CheckCodeResult{}, querier.UnknownStatus(path, res.Status)
		},

		ConsumeCode: func(ctx context.Context, in ConsumeCodeInput) (ConsumeCodeResult, error) {
			path := querier.TenantPath(in.TenantID, "/recipe/signinup/code/consume")
			var resp struct {
				Status                      string              `json:"status"`
				CreatedNewUser              bool                `json:"createdNewUser"`
				User                        *recipe.User        `json:"user"`
				RecipeUserID                recipe.RecipeUserID `json:"recipeUserId"`
				ConsumedDevice              *ConsumedDevice     `json:"consumedDevice"`
				FailedCodeInputAttemptCount int                 `json:"failedCodeInputAttemptCount"`
				MaximumCodeInputAttempts    int                 `json:"maximumCodeInputAttempts"`
			}
			if err := q.SendPostRequest(ctx, path, in.Credentials.body(), &resp); err != nil {
				return ConsumeCodeResult{}, err
			}
			switch resp.Status {
			case StatusOK:
			case StatusIncorrectCode, StatusExpiredCode, StatusRestartFlow:
				return ConsumeCodeResult{
					Status:                      resp.Status,
					FailedCodeInputAttemptCount: resp.FailedCodeInputAttemptCount,
					MaximumCodeInputAttempts:    resp.MaximumCodeInputAttempts,
				}, nil
			default:
				return ConsumeCodeResult{}, querier.UnknownStatus(path, resp.Status)
			}
			if resp.User == nil || resp.ConsumedDevice == nil {
				return ConsumeCodeResult{}, oops.With("path", path.String()).Errorf("consume response is missing the user or device")
			}
			logger.DebugContext(ctx, "code consumed",
				"tenant_id", in.TenantID, "pre_auth_session_id", in.Credentials.PreAuthSessionID,
				"created_new_user", resp.CreatedNewUser)

			// The code reached the mailbox, so the email is proven.
			if email := resp.ConsumedDevice.Email; email != "" {
				if lm := resp.User.LoginMethod(resp.RecipeUserID); lm != nil && !lm.Verified {
					if err := emailverification.MarkEmailAsVerified(ctx, verification, in.TenantID, resp.RecipeUserID, email); err != nil {
						return ConsumeCodeResult{}, err
					}
					lm.Verified = true
				}
			}

			link, err := deps.LinkToSessionIfProvidedElseCreatePrimaryUserIDOrLinkByAccountInfo(ctx,
				in.TenantID, resp.User, resp.RecipeUserID, in.Session, in.TryLinking)
			if err != nil {
				return ConsumeCodeResult{}, err
			}
			if link.Status != authutils.StatusOK {
				return ConsumeCodeResult{Status: link.Status, Reason: link.Reason}, nil
			}
			return ConsumeCodeResult{
				Status:               StatusOK,
				CreatedNewRecipeUser: resp.CreatedNewUser,
				User:                 link.User,
				RecipeUserID:         resp.RecipeUserID,
				ConsumedDevice:       resp.ConsumedDevice,
			}, nil
		},

		ListCodesByDeviceID: func(ctx context.Context, tenantID, deviceID string) (*Device, error) {
			return firstDevice(listCodes(ctx, tenantID, url.Values{"deviceId": {deviceID}}))
		},
		ListCodesByPreAuthSessionID: func(ctx context.Context, tenantID, preAuthSessionID string) (*Device, error) {
			return firstDevice(listCodes(ctx, tenantID, url.Values{"preAuthSessionId": {preAuthSessionID}}))
		},
		ListCodesByEmail: func(ctx context.Context, tenantID, email string) ([]Device, error) {
			return listCodes(ctx, tenantID, url.Values{"email": {email}})
		},
		ListCodesByPhoneNumber: func(ctx context.Context, tenantID, phoneNumber string) ([]Device, error) {
			return listCodes(ctx, tenantID, url.Values{"phoneNumber": {NormalisePhoneNumber(phoneNumber)}})
		},

		RevokeCode: func(ctx context.Context, tenantID string, in RevokeCodeInput) error {
			if (in.CodeID == "") == (in.PreAuthSessionID == "") {
				return oops.Errorf("passwordless: revoke code needs exactly one of codeId and preAuthSessionId")
			}
			body := map[string]any{"codeId": in.CodeID}
			if in.PreAuthSessionID != "" {
				body = map[string]any{"preAuthSessionId": in.PreAuthSessionID}
			}
			return postStatus(ctx, querier.TenantPath(tenantID, "/recipe/signinup/code/remove"), body)
		},

		RevokeAllCodes: func(ctx context.Context, tenantID string, contact Contact) error {
			if contact.IsZero() {
				return oops.Errorf("passwordless: revoke all codes needs an email or a phone number")
			}
			return postStatus(ctx, querier.TenantPath(tenantID, "/recipe/signinup/codes/remove"), contact.body())
		},

		UpdateUser: func(ctx context.Context, in UpdateUserInput) (UpdateUserResult, error) {
			body := map[string]any{"recipeUserId": in.RecipeUserID}
			if in.Email != nil {
				if email := *in.Email; email != "" {
					user, err := deps.AccountLinking.Impl.GetUser(ctx, in.RecipeUserID.String())
					if err != nil {
						return UpdateUserResult{}, err
					}
					var lm *recipe.LoginMethod
					if user != nil {
						lm = user.LoginMethod(in.RecipeUserID)
					}
					if lm == nil {
						return UpdateUserResult{Status: StatusUnknownUserID}, nil
					}
					verified, err := verification.IsEmailVerified(ctx, in.RecipeUserID, email)
					if err != nil {
						return UpdateUserResult{}, err
					}
					tenantID := recipe.DefaultTenantID
					if len(lm.TenantIDs) > 0 {
						tenantID = lm.TenantIDs[0]
					}
					allowed, err := deps.AccountLinking.IsEmailChangeAllowed(ctx, tenantID, user, email, verified, nil)
					if err != nil {
						return UpdateUserResult{}, err
					}
					if !allowed {
						return UpdateUserResult{
							Status: StatusEmailChangeNotAllowed,
							Reason: "New email cannot be applied to existing account because of account takeover risks.",
						}, nil
					}
					body["email"] = email
				} else {
					body["email"] = nil
				}
			}
			if in.PhoneNumber != nil {
				if phone := *in.PhoneNumber; phone != "" {
					body["phoneNumber"] = NormalisePhoneNumber(phone)
				} else {
					body["phoneNumber"] = nil
				}
			}

			path := querier.RootPath("/recipe/user")
			var res UpdateUserResult
			if err := q.SendPutRequest(ctx, path, body, &res); err != nil {
				return UpdateUserResult{}, err
			}
			switch res.Status {
			case StatusOK, StatusUnknownUserID, StatusEmailAlreadyExists, StatusPhoneNumberAlreadyExists,
				StatusEmailChangeNotAllowed, StatusPhoneNumberChangeNotAllowed:
				return res, nil
			}
			return UpdateUserResult{}, querier.UnknownStatus(path, res.Status)
		},
	}
}
