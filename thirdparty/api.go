package thirdparty

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// APIOptions is what an API implementation gets besides its input.
type APIOptions struct {
	Recipe *Recipe
	Req    *http.Request
	W      http.ResponseWriter
}

// AuthorisationURLAPIInput is a validated authorisation URL request.
type AuthorisationURLAPIInput struct {
	Provider                       *Provider
	RedirectURIOnProviderDashboard string
	TenantID                       string
}

// AuthorisationURLResponse is the body of the authorisation URL API.
type AuthorisationURLResponse struct {
	Status string `json:"status"`
	AuthorisationURL
}

// SignInUpAPIInput is a validated sign in request. Exactly one of
// RedirectURIInfo and OAuthTokens is set.
type SignInUpAPIInput struct {
	Provider        *Provider
	RedirectURIInfo *RedirectURIInfo
	OAuthTokens     map[string]any
	TenantID        string
	Session         session.Session
	TryLinking      authutils.TryLinking
}

// SignInUpResponse is OK with the user and session,
// NO_EMAIL_GIVEN_BY_PROVIDER, or SIGN_IN_UP_NOT_ALLOWED with a reason.
type SignInUpResponse struct {
	Status                  string
	Reason                  string
	CreatedNewRecipeUser    bool
	User                    *recipe.User
	Session                 session.Session
	OAuthTokens             *oauth2.Token
	RawUserInfoFromProvider map[string]any
}

// APIInterface is the overridable set of API operations.
type APIInterface struct {
	AuthorisationURLGET func(ctx context.Context, in AuthorisationURLAPIInput, opts APIOptions) (AuthorisationURLResponse, error)
	SignInUpPOST        func(ctx context.Context, in SignInUpAPIInput, opts APIOptions) (SignInUpResponse, error)
}

const emailChangeDeniedMessage = "Cannot sign in / up because new email cannot be applied to existing account. Please contact support. (ERR_CODE_005)"

var errorCodes = authutils.LinkingErrorCodes(authutils.ErrorCodeMap{
	{Status: authutils.StatusSignUpNotAllowed}: authutils.SignInUpDeniedMessage("ERR_CODE_006"),
	{Status: authutils.StatusSignInNotAllowed}: authutils.SignInUpDeniedMessage("ERR_CODE_004"),
	{Status: StatusEmailChangeNotAllowed}:      emailChangeDeniedMessage,
	{Status: authutils.StatusLinkingFailed, Reason: authutils.ReasonEmailVerificationRequired}: "Cannot sign in / up due to security reasons. Please contact support. (ERR_CODE_020)",
}, "ERR_CODE_021", "ERR_CODE_022", "ERR_CODE_023")

// NewAPIImplementation returns the default APIs.
func NewAPIImplementation() APIInterface {
	return APIInterface{
		AuthorisationURLGET: authorisationURLGET,
		SignInUpPOST:        signInUpPOST,
	}
}

func authorisationURLGET(_ context.Context, in AuthorisationURLAPIInput, _ APIOptions) (AuthorisationURLResponse, error) {
	return AuthorisationURLResponse{
		Status:           StatusOK,
		AuthorisationURL: in.Provider.GetAuthorisationRedirectURL(in.RedirectURIOnProviderDashboard),
	}, nil
}

func signInUpPOST(ctx context.Context, in SignInUpAPIInput, opts APIOptions) (SignInUpResponse, error) {
	r := opts.Recipe
	d := r.deps

	var token *oauth2.Token
	if in.RedirectURIInfo != nil {
		var err error
		if token, err = in.Provider.ExchangeAuthCodeForOAuthTokens(ctx, *in.RedirectURIInfo); err != nil {
			return SignInUpResponse{}, err
		}
	} else {
		access, _ := in.OAuthTokens["access_token"].(string)
		if access == "" {
			return SignInUpResponse{}, recipe.NewBadInputError("oAuthTokens must contain an access_token")
		}
		token = (&oauth2.Token{AccessToken: access}).WithExtra(in.OAuthTokens)
	}

	info, err := in.Provider.GetUserInfo(ctx, token)
	if err != nil {
		return SignInUpResponse{}, err
	}
	if info.Email == nil || info.Email.ID == "" {
		return SignInUpResponse{Status: StatusNoEmailGivenByProvider}, nil
	}
	email := info.Email.ID
	isVerified := info.Email.IsVerified
	thirdParty := &recipe.ThirdPartyInfo{ID: in.Provider.ID(), UserID: info.ThirdPartyUserID}

	authenticating, err := d.GetAuthenticatingUserAndAddToCurrentTenantIfRequired(ctx, authutils.AuthenticatingUserInput{
		RecipeID:    RecipeID,
		AccountInfo: recipe.AccountInfo{ThirdParty: thirdParty},
		TenantID:    in.TenantID,
		Session:     in.Session,
		// The provider vouched for the account on any tenant.
		CheckCredentialsOnTenant: func(context.Context, string) (bool, error) { return true, nil },
	})
	if err != nil {
		return SignInUpResponse{}, err
	}

	isSignUp := authenticating == nil
	if !isSignUp {
		lm := authenticating.LoginMethod
		if lm.HasSameEmailAs(email) && lm.Verified {
			isVerified = true
		}
		allowed, err := d.AccountLinking.IsEmailChangeAllowed(ctx, in.TenantID, authenticating.User, email, isVerified, in.Session)
		if err != nil {
			return SignInUpResponse{}, err
		}
		if !allowed {
			return SignInUpResponse{Status: StatusSignInUpNotAllowed, Reason: emailChangeDeniedMessage}, nil
		}
	}

	accountInfo := recipe.AccountInfoWithRecipeID{
		RecipeID:    RecipeID,
		AccountInfo: recipe.AccountInfo{Email: email, ThirdParty: thirdParty},
	}
	var authUser *recipe.User
	if authenticating != nil {
		authUser = authenticating.User
	}
	pre, err := d.PreAuthChecks(ctx, authutils.PreAuthInput{
		AuthenticatingAccountInfo: accountInfo,
		AuthenticatingUser:        authUser,
		TenantID:                  in.TenantID,
		FactorIDs:                 []string{recipe.FactorThirdParty},
		IsSignUp:                  isSignUp,
		IsVerified:                isVerified,
		Session:                   in.Session,
		TryLinking:                in.TryLinking,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if pre.Status != authutils.StatusOK {
		return denied(authutils.Denial{Status: pre.Status, Reason: pre.Reason})
	}

	res, err := r.Impl.SignInUp(ctx, SignInUpInput{
		ThirdPartyID:            in.Provider.ID(),
		ThirdPartyUserID:        info.ThirdPartyUserID,
		Email:                   email,
		IsVerified:              isVerified,
		TenantID:                in.TenantID,
		Session:                 in.Session,
		TryLinking:              in.TryLinking,
		OAuthTokens:             token,
		RawUserInfoFromProvider: info.RawUserInfoFromProvider,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if res.Status != StatusOK {
		return denied(authutils.Denial{Status: res.Status, Reason: res.Reason})
	}

	post, err := d.PostAuthChecks(ctx, authutils.PostAuthInput{
		AuthenticatedUser: res.User,
		RecipeUserID:      res.RecipeUserID,
		TenantID:          in.TenantID,
		FactorID:          recipe.FactorThirdParty,
		IsSignUp:          isSignUp,
		Session:           in.Session,
		W:                 opts.W,
		Req:               opts.Req,
	})
	if err != nil {
		return SignInUpResponse{}, err
	}
	if post.Status != authutils.StatusOK {
		return denied(authutils.Denial{Status: post.Status})
	}
	return SignInUpResponse{
		Status:                  StatusOK,
		CreatedNewRecipeUser:    res.CreatedNewRecipeUser,
		User:                    post.User,
		Session:                 post.Session,
		OAuthTokens:             res.OAuthTokens,
		RawUserInfoFromProvider: res.RawUserInfoFromProvider,
	}, nil
}

func denied(d authutils.Denial) (SignInUpResponse, error) {
	mapped, err := authutils.ErrorStatusResponseWithReason(d, errorCodes, StatusSignInUpNotAllowed)
	return SignInUpResponse{Status: mapped.Status, Reason: mapped.Reason}, err
}
