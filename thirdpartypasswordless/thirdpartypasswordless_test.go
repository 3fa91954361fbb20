package thirdpartypasswordless_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/internal/coretest"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/multitenancy"
	"github.com/panyam/authrecipes/passwordless"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
	"github.com/panyam/authrecipes/thirdparty"
	"github.com/panyam/authrecipes/thirdpartypasswordless"
)

func newDeps(t *testing.T, core *coretest.Server) *authutils.Deps {
	t.Helper()
	q, err := querier.New(querier.Config{ConnectionURI: core.URL})
	require.NoError(t, err)
	sess, err := session.New("Test", session.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	al, err := accountlinking.New(q, accountlinking.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	return &authutils.Deps{
		Querier:        q,
		AppInfo:        recipe.AppInfo{AppName: "Test", APIDomain: "http://api.test", WebsiteDomain: "http://web.test", WebsiteBasePath: "/auth"},
		Session:        sess,
		Multitenancy:   multitenancy.New(q),
		AccountLinking: al,
		Logger:         logging.Discard(),
	}
}

func config(providers ...string) thirdpartypasswordless.Config {
	cfg := thirdpartypasswordless.Config{}
	for _, id := range providers {
		cfg.ThirdParty.Providers = append(cfg.ThirdParty.Providers, thirdparty.ProviderConfig{
			ThirdPartyID:     id,
			ClientID:         "client-" + id,
			Endpoint:         oauth2.Endpoint{AuthURL: "http://idp.test/authorize", TokenURL: "http://idp.test/token"},
			UserInfoEndpoint: "http://idp.test/userinfo",
			UserInfoMap:      thirdparty.UserInfoMap{UserID: "sub", Email: "email"},
		})
	}
	cfg.Passwordless.ContactMethod = passwordless.ContactMethodEmail
	cfg.Passwordless.FlowType = passwordless.FlowTypeUserInputCode
	cfg.Passwordless.EmailDelivery.Service = delivery.ServiceFunc[delivery.EmailInput](func(context.Context, delivery.EmailInput) error {
		return nil
	})
	return cfg
}

func build(t *testing.T, cfg thirdpartypasswordless.Config) (*thirdpartypasswordless.Recipe, *coretest.Server) {
	t.Helper()
	core := coretest.New(t)
	deps := newDeps(t, core)
	r, err := thirdpartypasswordless.New(cfg, deps)
	require.NoError(t, err)
	deps.AvailableFirstFactors = r.FirstFactors
	return r, core
}

func serve(t *testing.T, r recipe.Recipe, apiID, method, target string, body any) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	require.NoError(t, r.HandleAPIRequest(req.Context(), apiID, "public", w, req))
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func apiIDs(r recipe.Recipe) []string {
	var ids []string
	for _, api := range r.APIs() {
		if !api.Disabled {
			ids = append(ids, api.ID)
		}
	}
	return ids
}

func TestNew_WithoutProviders(t *testing.T) {
	r, _ := build(t, config())
	assert.Nil(t, r.ThirdParty)
	assert.Equal(t, thirdpartypasswordless.RecipeID, r.ID())
	assert.NotContains(t, apiIDs(r), thirdparty.APISignInUp)
	assert.Contains(t, apiIDs(r), passwordless.APICreateCode)
	assert.Equal(t, []string{recipe.FactorOTPEmail}, r.FirstFactors())

	_, err := r.ThirdPartyManuallyCreateOrUpdateUser(context.Background(), thirdparty.SignInUpInput{TenantID: "public"})
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))
}

func TestNew_InvalidHalf(t *testing.T) {
	core := coretest.New(t)
	cfg := config()
	cfg.Passwordless.ContactMethod = "FAX"
	_, err := thirdpartypasswordless.New(cfg, newDeps(t, core))
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))
}

func TestRoutesToBothHalves(t *testing.T) {
	r, core := build(t, config("google"))
	require.NotNil(t, r.ThirdParty)
	assert.ElementsMatch(t, []string{recipe.FactorThirdParty, recipe.FactorOTPEmail}, r.FirstFactors())

	out := serve(t, r, thirdparty.APIAuthorisationURL, http.MethodGet,
		"/auth/authorisationurl?thirdPartyId=google&redirectURIOnProviderDashboard="+url.QueryEscape("http://web.test/cb"), nil)
	assert.Equal(t, "OK", out["status"])
	u, err := url.Parse(out["urlWithQueryParams"].(string))
	require.NoError(t, err)
	assert.Equal(t, "client-google", u.Query().Get("client_id"))

	out = serve(t, r, passwordless.APICreateCode, http.MethodPost, "/auth/signinup/code", map[string]any{"email": "jane@example.com"})
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, 1, core.Calls(http.MethodPost, "/recipe/signinup/code"))
}

func TestServerSideHelpers(t *testing.T) {
	r, core := build(t, config("google"))
	ctx := context.Background()

	link, err := r.CreateMagicLink(ctx, "public", passwordless.EmailContact("jane@example.com"), nil)
	require.NoError(t, err)
	assert.Contains(t, link, "http://web.test/auth/verify?preAuthSessionId=")

	res, err := r.PasswordlessSignInUp(ctx, "public", passwordless.EmailContact("jane@example.com"))
	require.NoError(t, err)
	assert.Equal(t, passwordless.StatusOK, res.Status)
	assert.True(t, res.CreatedNewRecipeUser)

	tp, err := r.ThirdPartyManuallyCreateOrUpdateUser(ctx, thirdparty.SignInUpInput{
		ThirdPartyID:     "google",
		ThirdPartyUserID: "g-1",
		Email:            "jane@example.com",
		TenantID:         "public",
		TryLinking:       authutils.TryLinkingNever,
	})
	require.NoError(t, err)
	assert.Equal(t, thirdparty.StatusOK, tp.Status)
	assert.Equal(t, 2, core.UserCount())
}
