package emailpassword

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// Statuses.
const (
	StatusOK                        = "OK"
	StatusEmailAlreadyExists        = "EMAIL_ALREADY_EXISTS_ERROR"
	StatusWrongCredentials          = "WRONG_CREDENTIALS_ERROR"
	StatusUnknownUserID             = "UNKNOWN_USER_ID_ERROR"
	StatusResetPasswordInvalidToken = "RESET_PASSWORD_INVALID_TOKEN_ERROR"
	StatusEmailChangeNotAllowed     = "EMAIL_CHANGE_NOT_ALLOWED_ERROR"
	StatusPasswordPolicyViolated    = "PASSWORD_POLICY_VIOLATED_ERROR"
	StatusFieldError                = "FIELD_ERROR"
	StatusSignUpNotAllowed          = authutils.StatusSignUpNotAllowed
	StatusSignInNotAllowed          = authutils.StatusSignInNotAllowed
	StatusPasswordResetNotAllowed   = "PASSWORD_RESET_NOT_ALLOWED"
)

// SignUpInput is a new email and password account.
type SignUpInput struct {
	Email      string
	Password   string
	TenantID   string
	Session    session.Session
	TryLinking authutils.TryLinking
}

// SignInInput is a sign in attempt.
type SignInInput = SignUpInput

// UserResult is OK with the user whose login method RecipeUserID was created
// or signed in, a recipe status, or a linking denial with its reason.
type UserResult struct {
	Status       string
	Reason       string
	User         *recipe.User
	RecipeUserID recipe.RecipeUserID
}

// ResetTokenResult is OK with a token, or UNKNOWN_USER_ID_ERROR.
type ResetTokenResult struct {
	Status string
	Token  string
}

// ConsumeTokenResult is OK with the login method the token was issued for,
// or RESET_PASSWORD_INVALID_TOKEN_ERROR.
type ConsumeTokenResult struct {
	Status       string
	RecipeUserID recipe.RecipeUserID
	Email        string
}

// UpdateInput changes the email and/or password of a login method. Nil
// fields are left alone.
type UpdateInput struct {
	RecipeUserID recipe.RecipeUserID
	Email        *string
	Password     *string
	// TenantIDForPasswordPolicy selects the tenant whose password rules
	// apply.
	TenantIDForPasswordPolicy string
}

// UpdateResult is OK, UNKNOWN_USER_ID_ERROR, EMAIL_ALREADY_EXISTS_ERROR,
// EMAIL_CHANGE_NOT_ALLOWED_ERROR with a reason, or
// PASSWORD_POLICY_VIOLATED_ERROR with the validator's message.
type UpdateResult struct {
	Status        string
	Reason        string
	FailureReason string
}

// RecipeInterface is the overridable set of recipe operations.
type RecipeInterface struct {
	// SignUp creates the login method and links it.
	SignUp func(ctx context.Context, in SignUpInput) (UserResult, error)
	// CreateNewRecipeUser only creates the login method.
	CreateNewRecipeUser func(ctx context.Context, tenantID, email, password string) (UserResult, error)
	// SignIn checks the credentials and links the login method to the
	// session user when there is one.
	SignIn func(ctx context.Context, in SignInInput) (UserResult, error)
	// VerifyCredentials only checks the credentials.
	VerifyCredentials func(ctx context.Context, tenantID, email, password string) (UserResult, error)

	CreateResetPasswordToken  func(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) (ResetTokenResult, error)
	ConsumePasswordResetToken func(ctx context.Context, tenantID, token string) (ConsumeTokenResult, error)
	UpdateEmailOrPassword     func(ctx context.Context, in UpdateInput) (UpdateResult, error)
}

// NewRecipeImplementation returns the core backed implementation.
// validatePassword is the sign up password rule; self returns the fully
// overridden interface.
func NewRecipeImplementation(q *querier.Querier, deps *authutils.Deps, validatePassword Validator, logger *slog.Logger, self func() RecipeInterface) RecipeInterface {
	credentials := func(ctx context.Context, path querier.Path, email, password string, expected string) (UserResult, error) {
		var resp struct {
			Status       string              `json:"status"`
			User         *recipe.User        `json:"user"`
			RecipeUserID recipe.RecipeUserID `json:"recipeUserId"`
		}
		body := map[string]any{"email": email, "password": password}
		if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
			return UserResult{}, err
		}
		switch resp.Status {
		case StatusOK:
		case expected:
			return UserResult{Status: resp.Status}, nil
		default:
			return UserResult{}, querier.UnknownStatus(path, resp.Status)
		}
		if resp.User == nil {
			return UserResult{}, oops.With("path", path.String()).Errorf("response has no user")
		}
		return UserResult{Status: StatusOK, User: resp.User, RecipeUserID: resp.RecipeUserID}, nil
	}

	link := func(ctx context.Context, in SignUpInput, res UserResult) (UserResult, error) {
		linked, err := deps.LinkToSessionIfProvidedElseCreatePrimaryUserIDOrLinkByAccountInfo(ctx,
			in.TenantID, res.User, res.RecipeUserID, in.Session, in.TryLinking)
		if err != nil {
			return UserResult{}, err
		}
		if linked.Status != authutils.StatusOK {
			return UserResult{Status: linked.Status, Reason: linked.Reason}, nil
		}
		res.User = linked.User
		return res, nil
	}

	return RecipeInterface{
		SignUp: func(ctx context.Context, in SignUpInput) (UserResult, error) {
			res, err := self().CreateNewRecipeUser(ctx, in.TenantID, in.Email, in.Password)
			if err != nil || res.Status != StatusOK {
				return res, err
			}
			logger.DebugContext(ctx, "email password user created", "tenant_id", in.TenantID, "recipe_user_id", res.RecipeUserID)
			return link(ctx, in, res)
		},

		CreateNewRecipeUser: func(ctx context.Context, tenantID, email, password string) (UserResult, error) {
			return credentials(ctx, querier.TenantPath(tenantID, "/recipe/signup"), email, password, StatusEmailAlreadyExists)
		},

		SignIn: func(ctx context.Context, in SignInInput) (UserResult, error) {
			res, err := self().VerifyCredentials(ctx, in.TenantID, in.Email, in.Password)
			if err != nil || res.Status != StatusOK {
				return res, err
			}
			if in.Session == nil {
				return res, nil
			}
			return link(ctx, in, res)
		},

		VerifyCredentials: func(ctx context.Context, tenantID, email, password string) (UserResult, error) {
			return credentials(ctx, querier.TenantPath(tenantID, "/recipe/signin"), email, password, StatusWrongCredentials)
		},

		CreateResetPasswordToken: func(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, email string) (ResetTokenResult, error) {
			path := querier.TenantPath(tenantID, "/recipe/user/password/reset/token")
			var resp struct {
				Status string `json:"status"`
				Token  string `json:"token"`
			}
			body := map[string]any{"userId": recipeUserID, "email": email}
			if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
				return ResetTokenResult{}, err
			}
			switch resp.Status {
			case StatusOK, StatusUnknownUserID:
				return ResetTokenResult{Status: resp.Status, Token: resp.Token}, nil
			}
			return ResetTokenResult{}, querier.UnknownStatus(path, resp.Status)
		},

		ConsumePasswordResetToken: func(ctx context.Context, tenantID, token string) (ConsumeTokenResult, error) {
			path := querier.TenantPath(tenantID, "/recipe/user/password/reset/token/consume")
			var resp struct {
				Status string              `json:"status"`
				UserID recipe.RecipeUserID `json:"userId"`
				Email  string              `json:"email"`
			}
			body := map[string]any{"method": "token", "token": token}
			if err := q.SendPostRequest(ctx, path, body, &resp); err != nil {
				return ConsumeTokenResult{}, err
			}
			switch resp.Status {
			case StatusOK, StatusResetPasswordInvalidToken:
				return ConsumeTokenResult{Status: resp.Status, RecipeUserID: resp.UserID, Email: resp.Email}, nil
			}
			return ConsumeTokenResult{}, querier.UnknownStatus(path, resp.Status)
		},

		UpdateEmailOrPassword: func(ctx context.Context, in UpdateInput) (UpdateResult, error) {
			user, err := deps.AccountLinking.Impl.GetUser(ctx, in.RecipeUserID.String())
			if err != nil {
				return UpdateResult{}, err
			}
			var lm *recipe.LoginMethod
			if user != nil {
				lm = user.LoginMethod(in.RecipeUserID)
			}
			if lm == nil || lm.RecipeID != RecipeID {
				return UpdateResult{Status: StatusUnknownUserID}, nil
			}

			body := map[string]any{"recipeUserId": in.RecipeUserID}
			if in.Email != nil {
				tenantID := recipe.DefaultTenantID
				if len(lm.TenantIDs) > 0 {
					tenantID = lm.TenantIDs[0]
				}
				allowed, err := deps.AccountLinking.IsEmailChangeAllowed(ctx, tenantID, user, *in.Email, false, nil)
				if err != nil {
					return UpdateResult{}, err
				}
				if !allowed {
					return UpdateResult{
						Status: StatusEmailChangeNotAllowed,
						Reason: "New email cannot be applied to existing account because of account takeover risks.",
					}, nil
				}
				body["email"] = *in.Email
			}
			if in.Password != nil {
				tenantID := in.TenantIDForPasswordPolicy
				if tenantID == "" {
					tenantID = recipe.DefaultTenantID
				}
				msg, err := validatePassword(ctx, *in.Password, tenantID)
				if err != nil {
					return UpdateResult{}, err
				}
				if msg != "" {
					return UpdateResult{Status: StatusPasswordPolicyViolated, FailureReason: msg}, nil
				}
				body["password"] = *in.Password
			}

			path := querier.RootPath("/recipe/user")
			var resp struct {
				Status string `json:"status"`
				Reason string `json:"reason"`
			}
			if err := q.SendPutRequest(ctx, path, body, &resp); err != nil {
				return UpdateResult{}, err
			}
			switch resp.Status {
			case StatusOK, StatusUnknownUserID, StatusEmailAlreadyExists, StatusEmailChangeNotAllowed:
				return UpdateResult{Status: resp.Status, Reason: resp.Reason}, nil
			}
			return UpdateResult{}, querier.UnknownStatus(path, resp.Status)
		},
	}
}
