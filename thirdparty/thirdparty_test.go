package thirdparty_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/internal/coretest"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/multitenancy"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
	"github.com/panyam/authrecipes/thirdparty"
)

// mockProvider is an OAuth provider serving /authorize, /token and
// /userinfo.
type mockProvider struct {
	server *httptest.Server

	mu           sync.Mutex
	userInfo     map[string]any
	lastCode     string
	lastVerifier string
	lastBearer   string
}

func newMockProvider(t *testing.T) *mockProvider {
	t.Helper()
	m := &mockProvider{userInfo: map[string]any{
		"id":             "12345",
		"email":          "testuser@example.com",
		"email_verified": true,
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		m.mu.Lock()
		m.lastCode = r.PostForm.Get("code")
		m.lastVerifier = r.PostForm.Get("code_verifier")
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock_access_token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.lastBearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.userInfo)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 98765432, "login": "octocat"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"email": "other@example.com", "primary": false, "verified": true},
			{"email": "octo@example.com", "primary": true, "verified": true}]`))
	})
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockProvider) config(id string) thirdparty.ProviderConfig {
	return thirdparty.ProviderConfig{
		ThirdPartyID:     id,
		ClientID:         "client-" + id,
		ClientSecret:     "secret",
		Scopes:           []string{"email"},
		Endpoint:         oauth2.Endpoint{AuthURL: m.server.URL + "/authorize", TokenURL: m.server.URL + "/token"},
		UserInfoEndpoint: m.server.URL + "/userinfo",
		UserInfoMap:      thirdparty.UserInfoMap{UserID: "id", Email: "email", EmailVerified: "email_verified"},
	}
}

type fixture struct {
	core     *coretest.Server
	provider *mockProvider
	tp       *thirdparty.Recipe
}

func setup(t *testing.T, linking accountlinking.Config) *fixture {
	t.Helper()
	f := &fixture{core: coretest.New(t), provider: newMockProvider(t)}
	q, err := querier.New(querier.Config{ConnectionURI: f.core.URL})
	require.NoError(t, err)
	sess, err := session.New("Test", session.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	linking.Logger = logging.Discard()
	al, err := accountlinking.New(q, linking)
	require.NoError(t, err)

	f.tp, err = thirdparty.New(thirdparty.Config{
		Providers: []thirdparty.ProviderConfig{f.provider.config("mock"), f.provider.config("other")},
		Logger:    logging.Discard(),
	}, &authutils.Deps{
		Querier:        q,
		Session:        sess,
		Multitenancy:   multitenancy.New(q),
		AccountLinking: al,
		AvailableFirstFactors: func() []string {
			return []string{recipe.FactorThirdParty}
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, apiID, method, query string, body any, version string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	target := "/auth/signinup"
	if query != "" {
		target += "?" + query
	}
	req := httptest.NewRequest(method, target, &buf)
	if version != "" {
		req.Header.Set(recipe.FDIVersionHeader, version)
	}
	w := httptest.NewRecorder()
	err := f.tp.HandleAPIRequest(req.Context(), apiID, "public", w, req)
	return w, err
}

func (f *fixture) signInUp(t *testing.T, code string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w, err := f.do(t, thirdparty.APISignInUp, http.MethodPost, "", map[string]any{
		"thirdPartyId": "mock",
		"redirectURIInfo": map[string]any{
			"redirectURIOnProviderDashboard": "http://web.test/auth/callback/mock",
			"redirectURIQueryParams":         map[string]any{"code": code},
			"pkceCodeVerifier":               "verifier-1",
		},
	}, "")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return w, out
}

func TestNewProvider_Validates(t *testing.T) {
	_, err := thirdparty.NewProvider(thirdparty.ProviderConfig{ThirdPartyID: "x"})
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))

	t.Setenv("OAUTH2_GOOGLE_CLIENT_ID", "from-env")
	cfg := thirdparty.Google(thirdparty.ProviderConfig{})
	assert.Equal(t, "google", cfg.ThirdPartyID)
	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, google.Endpoint, cfg.Endpoint)
	_, err = thirdparty.NewProvider(cfg)
	assert.NoError(t, err)
}

func TestNew_RejectsDuplicateProviders(t *testing.T) {
	m := newMockProvider(t)
	core := coretest.New(t)
	q, err := querier.New(querier.Config{ConnectionURI: core.URL})
	require.NoError(t, err)
	sess, err := session.New("Test", session.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	al, err := accountlinking.New(q, accountlinking.Config{Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = thirdparty.New(thirdparty.Config{
		Providers: []thirdparty.ProviderConfig{m.config("mock"), m.config("mock")},
	}, &authutils.Deps{Querier: q, Session: sess, Multitenancy: multitenancy.New(q), AccountLinking: al})
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))
}

func TestAuthorisationURL(t *testing.T) {
	f := setup(t, accountlinking.Config{})
	w, err := f.do(t, thirdparty.APIAuthorisationURL, http.MethodGet,
		"thirdPartyId=mock&redirectURIOnProviderDashboard="+url.QueryEscape("http://web.test/auth/callback/mock"), nil, "")
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, "OK", out["status"])
	assert.NotEmpty(t, out["pkceCodeVerifier"])

	u, err := url.Parse(out["urlWithQueryParams"].(string))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "client-mock", u.Query().Get("client_id"))
	assert.Equal(t, "http://web.test/auth/callback/mock", u.Query().Get("redirect_uri"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.Empty(t, u.Query().Get("state"))

	_, err = f.do(t, thirdparty.APIAuthorisationURL, http.MethodGet, "thirdPartyId=nope&redirectURIOnProviderDashboard=x", nil, "")
	_, ok := recipe.IsBadInput(err)
	assert.True(t, ok)
}

func TestAuthorisationURL_TenantProviders(t *testing.T) {
	f := setup(t, accountlinking.Config{})
	f.core.AddTenant(coretest.Tenant{TenantID: "public", ThirdPartyProviders: []map[string]any{
		{"thirdPartyId": "mock", "clients": []any{map[string]any{"clientId": "tenant-client"}}},
	}})

	w, err := f.do(t, thirdparty.APIAuthorisationURL, http.MethodGet, "thirdPartyId=mock&redirectURIOnProviderDashboard=x", nil, "")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	u, err := url.Parse(out["urlWithQueryParams"].(string))
	require.NoError(t, err)
	assert.Equal(t, "tenant-client", u.Query().Get("client_id"))

	_, err = f.do(t, thirdparty.APIAuthorisationURL, http.MethodGet, "thirdPartyId=other&redirectURIOnProviderDashboard=x", nil, "")
	_, ok := recipe.IsBadInput(err)
	assert.True(t, ok, "provider not listed for the tenant")
}

func TestSignInUp(t *testing.T) {
	f := setup(t, accountlinking.Config{})

	w, out := f.signInUp(t, "code-1")
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, true, out["createdNewRecipeUser"])
	assert.NotContains(t, out, "oAuthTokens")
	assert.NotEmpty(t, w.Header().Get(session.AccessTokenHeader))
	assert.Equal(t, "code-1", f.provider.lastCode)
	assert.Equal(t, "verifier-1", f.provider.lastVerifier)
	assert.Equal(t, "mock_access_token", f.provider.lastBearer)

	user := out["user"].(map[string]any)
	lm := user["loginMethods"].([]any)[0].(map[string]any)
	assert.Equal(t, "testuser@example.com", lm["email"])
	assert.Equal(t, true, lm["verified"])
	assert.Equal(t, map[string]any{"id": "mock", "userId": "12345"}, lm["thirdParty"])

	_, out = f.signInUp(t, "code-2")
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, false, out["createdNewRecipeUser"])
	assert.Equal(t, 1, f.core.UserCount())
}

func TestSignInUp_WithAccessToken(t *testing.T) {
	f := setup(t, accountlinking.Config{})
	w, err := f.do(t, thirdparty.APISignInUp, http.MethodPost, "", map[string]any{
		"thirdPartyId": "mock",
		"oAuthTokens":  map[string]any{"access_token": "frontend-token"},
	}, "1.17")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, true, out["createdNewUser"])
	assert.Equal(t, "testuser@example.com", out["user"].(map[string]any)["email"])
	assert.Equal(t, "frontend-token", f.provider.lastBearer)
}

func TestSignInUp_NoEmailFromProvider(t *testing.T) {
	f := setup(t, accountlinking.Config{})
	f.provider.userInfo = map[string]any{"id": "12345"}

	_, out := f.signInUp(t, "code-1")
	assert.Equal(t, map[string]any{"status": "NO_EMAIL_GIVEN_BY_PROVIDER"}, out)
	assert.Zero(t, f.core.Calls(http.MethodPost, "/recipe/signinup"))
}

func TestSignInUp_BadInput(t *testing.T) {
	f := setup(t, accountlinking.Config{})
	for _, body := range []map[string]any{
		{"thirdPartyId": "mock"},
		{"redirectURIInfo": map[string]any{"redirectURIOnProviderDashboard": "x"}},
		{"thirdPartyId": "mock", "redirectURIInfo": map[string]any{}},
		{"thirdPartyId": "mock", "redirectURIInfo": map[string]any{"redirectURIOnProviderDashboard": "x"}, "oAuthTokens": map[string]any{}},
	} {
		_, err := f.do(t, thirdparty.APISignInUp, http.MethodPost, "", body, "")
		_, ok := recipe.IsBadInput(err)
		assert.True(t, ok, "body %v", body)
	}
}

func TestSignInUp_DeniedWhenUnverifiedEmailWouldLink(t *testing.T) {
	f := setup(t, accountlinking.Config{
		ShouldDoAutomaticAccountLinking: func(context.Context, recipe.AccountInfoWithRecipeID, *recipe.User, session.Session, string) (accountlinking.ShouldLink, error) {
			return accountlinking.ShouldLink{ShouldAutomaticallyLink: true, ShouldRequireVerification: true}, nil
		},
	})
	f.provider.userInfo["email_verified"] = false
	f.core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "testuser@example.com", Password: "secret123"})

	_, out := f.signInUp(t, "code-1")
	assert.Equal(t, map[string]any{
		"status": "SIGN_IN_UP_NOT_ALLOWED",
		"reason": "Cannot sign in / up due to security reasons. Please try a different login method or contact support. (ERR_CODE_006)",
	}, out)
	assert.Zero(t, f.core.Calls(http.MethodPost, "/recipe/signinup"))
}

func TestGitHubUserInfo(t *testing.T) {
	m := newMockProvider(t)
	p, err := thirdparty.NewProvider(thirdparty.GitHub(thirdparty.ProviderConfig{
		ClientID:         "gh",
		Endpoint:         oauth2.Endpoint{AuthURL: m.server.URL + "/authorize", TokenURL: m.server.URL + "/token"},
		UserInfoEndpoint: m.server.URL + "/user",
	}))
	require.NoError(t, err)

	info, err := p.GetUserInfo(context.Background(), &oauth2.Token{AccessToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, "98765432", info.ThirdPartyUserID)
	assert.Equal(t, &thirdparty.EmailInfo{ID: "octo@example.com", IsVerified: true}, info.Email)
}

func TestManuallyCreateOrUpdateUser(t *testing.T) {
	f := setup(t, accountlinking.Config{})
	ctx := context.Background()

	res, err := f.tp.Impl.ManuallyCreateOrUpdateUser(ctx, thirdparty.SignInUpInput{
		ThirdPartyID: "google", ThirdPartyUserID: "g1", Email: "a@b.com", TenantID: "public",
	})
	require.NoError(t, err)
	assert.Equal(t, thirdparty.StatusOK, res.Status)
	assert.True(t, res.CreatedNewRecipeUser)
	assert.False(t, f.core.IsEmailVerified(res.RecipeUserID, "a@b.com"))

	res, err = f.tp.Impl.ManuallyCreateOrUpdateUser(ctx, thirdparty.SignInUpInput{
		ThirdPartyID: "google", ThirdPartyUserID: "g1", Email: "new@b.com", IsVerified: true, TenantID: "public",
	})
	require.NoError(t, err)
	assert.False(t, res.CreatedNewRecipeUser)
	assert.Equal(t, []string{"new@b.com"}, res.User.Emails)
	assert.True(t, f.core.IsEmailVerified(res.RecipeUserID, "new@b.com"))
}
