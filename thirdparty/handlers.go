package thirdparty

import (
	"context"
	"strings"

	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/recipe"
)

const userResponseVersion = "1.18"

func (r *Recipe) handleAuthorisationURL(ctx context.Context, tenantID string, opts APIOptions) error {
	q := opts.Req.URL.Query()
	thirdPartyID := strings.TrimSpace(q.Get("thirdPartyId"))
	if thirdPartyID == "" {
		return recipe.NewBadInputError("Please provide the thirdPartyId as a GET param")
	}
	redirectURI := strings.TrimSpace(q.Get("redirectURIOnProviderDashboard"))
	if redirectURI == "" {
		return recipe.NewBadInputError("Please provide the redirectURIOnProviderDashboard as a GET param")
	}
	provider, err := r.Provider(ctx, tenantID, thirdPartyID)
	if err != nil {
		return err
	}
	res, err := r.API.AuthorisationURLGET(ctx, AuthorisationURLAPIInput{
		Provider:                       provider,
		RedirectURIOnProviderDashboard: redirectURI,
		TenantID:                       tenantID,
	}, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, res)
}

func (r *Recipe) handleSignInUp(ctx context.Context, tenantID string, opts APIOptions) error {
	var body struct {
		ThirdPartyID                    string           `json:"thirdPartyId"`
		RedirectURIInfo                 *RedirectURIInfo `json:"redirectURIInfo"`
		OAuthTokens                     map[string]any   `json:"oAuthTokens"`
		ShouldTryLinkingWithSessionUser *bool            `json:"shouldTryLinkingWithSessionUser"`
	}
	if err := recipe.DecodeJSONBody(opts.Req, &body); err != nil {
		return err
	}
	if body.ThirdPartyID == "" {
		return recipe.NewBadInputError("Please provide the thirdPartyId in request body")
	}
	if (body.RedirectURIInfo == nil) == (body.OAuthTokens == nil) {
		return recipe.NewBadInputError("Please provide one of redirectURIInfo or oAuthTokens in the request body")
	}
	if body.RedirectURIInfo != nil && body.RedirectURIInfo.RedirectURIOnProviderDashboard == "" {
		return recipe.NewBadInputError("Please provide the redirectURIOnProviderDashboard in request body")
	}

	try := authutils.TryLinkingFrom(body.ShouldTryLinkingWithSessionUser)
	s, err := r.deps.LoadSessionInAuthAPIIfNeeded(opts.W, opts.Req, try)
	if err != nil {
		return err
	}
	if s != nil {
		tenantID = s.TenantID()
	}
	provider, err := r.Provider(ctx, tenantID, body.ThirdPartyID)
	if err != nil {
		return err
	}

	res, err := r.API.SignInUpPOST(ctx, SignInUpAPIInput{
		Provider:        provider,
		RedirectURIInfo: body.RedirectURIInfo,
		OAuthTokens:     body.OAuthTokens,
		TenantID:        tenantID,
		Session:         s,
		TryLinking:      try,
	}, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, signInUpResponseBody(res, recipe.FDIVersionAtLeast(opts.Req, userResponseVersion)))
}

// signInUpResponseBody shapes res for the wire. Tokens and the session stay
// server side.
func signInUpResponseBody(res SignInUpResponse, fullUser bool) map[string]any {
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
	case StatusNoEmailGivenByProvider:
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
	if lm.ThirdParty != nil {
		out["thirdParty"] = lm.ThirdParty
	}
	return out
}
