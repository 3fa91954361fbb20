package authrecipes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authrecipes"
	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/emailpassword"
	"github.com/panyam/authrecipes/internal/coretest"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/passwordless"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// testApp is an App in front of a fake core, with every outgoing email
// captured.
type testApp struct {
	core   *coretest.Server
	app    *authrecipes.App
	server *httptest.Server

	mu     sync.Mutex
	emails []delivery.EmailInput
}

func config(core *coretest.Server, builders ...authrecipes.RecipeBuilder) authrecipes.Config {
	return authrecipes.Config{
		AppInfo: recipe.AppInfo{AppName: "Test", APIDomain: "http://api.test", WebsiteDomain: "http://web.test"},
		Core:    querier.Config{ConnectionURI: core.URL},
		Session: session.Config{SecretKey: "0123456789abcdef0123456789abcdef"},
		Recipes: builders,
		Logger:  logging.Discard(),
	}
}

func newTestApp(t *testing.T, mutate func(*authrecipes.Config), builders ...authrecipes.RecipeBuilder) *testApp {
	t.Helper()
	ta := &testApp{core: coretest.New(t)}
	cfg := config(ta.core, builders...)
	cfg.DefaultEmailService = delivery.ServiceFunc[delivery.EmailInput](func(_ context.Context, in delivery.EmailInput) error {
		ta.mu.Lock()
		defer ta.mu.Unlock()
		ta.emails = append(ta.emails, in)
		return nil
	})
	if mutate != nil {
		mutate(&cfg)
	}
	app, err := authrecipes.New(cfg)
	require.NoError(t, err)
	ta.app = app
	ta.server = httptest.NewServer(app.Handler())
	t.Cleanup(ta.server.Close)
	return ta
}

func (ta *testApp) lastEmail(t *testing.T) delivery.EmailInput {
	t.Helper()
	ta.mu.Lock()
	defer ta.mu.Unlock()
	require.NotEmpty(t, ta.emails)
	return ta.emails[len(ta.emails)-1]
}

func (ta *testApp) call(t *testing.T, method, path string, body any, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ta.server.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func form(email, password string) map[string]any {
	return map[string]any{"formFields": []map[string]any{
		{"id": "email", "value": email},
		{"id": "password", "value": password},
	}}
}

func bearer(resp *http.Response) http.Header {
	return http.Header{"Authorization": {"Bearer " + resp.Header.Get(session.AccessTokenHeader)}}
}

// =============================================================================
// Initialisation
// =============================================================================

func TestNew_ConfigErrors(t *testing.T) {
	core := coretest.New(t)
	ep := authrecipes.EmailPassword(emailpassword.Config{})

	tests := []struct {
		name   string
		mutate func(*authrecipes.Config)
	}{
		{"no recipes", func(c *authrecipes.Config) { c.Recipes = nil }},
		{"duplicate recipe", func(c *authrecipes.Config) { c.Recipes = append(c.Recipes, ep) }},
		{"missing app name", func(c *authrecipes.Config) { c.AppInfo.AppName = "" }},
		{"bad origin pattern", func(c *authrecipes.Config) { c.AllowedOrigins = []string{"https://[example.com"} }},
		{"short session key", func(c *authrecipes.Config) { c.Session.SecretKey = "short" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config(core, ep)
			tt.mutate(&cfg)
			_, err := authrecipes.New(cfg)
			assert.True(t, logging.HasCode(err, "CONFIG_INVALID"), "got %v", err)
		})
	}
}

func TestNew_SharesFirstFactors(t *testing.T) {
	ta := newTestApp(t, nil,
		authrecipes.EmailPassword(emailpassword.Config{}),
		authrecipes.Passwordless(passwordless.Config{
			ContactMethod: passwordless.ContactMethodEmail,
			FlowType:      passwordless.FlowTypeUserInputCode,
		}),
	)
	assert.Equal(t, []string{recipe.FactorEmailPassword, recipe.FactorOTPEmail}, ta.app.Deps().AvailableFirstFactors())
	assert.NotNil(t, ta.app.Recipe(emailpassword.RecipeID))
	assert.Nil(t, ta.app.Recipe("nope"))
}

// =============================================================================
// Routing
// =============================================================================

func TestHandler_TenantRoutes(t *testing.T) {
	ta := newTestApp(t, nil, authrecipes.EmailPassword(emailpassword.Config{}))

	resp, out := ta.call(t, http.MethodPost, "/auth/signup", form("jane@example.com", "validPass123"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", out["status"])

	resp, out = ta.call(t, http.MethodPost, "/auth/public/signin", form("jane@example.com", "validPass123"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", out["status"])

	resp, _ = ta.call(t, http.MethodPost, "/auth/signout", nil, bearer(resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ta.call(t, http.MethodGet, "/auth/nothing-here", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_SharedPathGoesToFirstRecipe(t *testing.T) {
	ta := newTestApp(t, nil,
		authrecipes.Passwordless(passwordless.Config{
			ContactMethod: passwordless.ContactMethodEmail,
			FlowType:      passwordless.FlowTypeUserInputCode,
		}),
		authrecipes.EmailPassword(emailpassword.Config{}),
	)
	ta.core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "ep@example.com", Password: "validPass123"})

	_, out := ta.call(t, http.MethodGet, "/auth/signup/email/exists?email=ep%40example.com", nil, nil)
	assert.Equal(t, false, out["exists"], "passwordless answers the legacy path")
	_, out = ta.call(t, http.MethodGet, "/auth/emailpassword/email/exists?email=ep%40example.com", nil, nil)
	assert.Equal(t, true, out["exists"])
}

func TestMiddleware_PassesThrough(t *testing.T) {
	core := coretest.New(t)
	app, err := authrecipes.New(config(core, authrecipes.EmailPassword(emailpassword.Config{})))
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := app.Middleware(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app/home", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/signup", nil))
	assert.Equal(t, http.StatusTeapot, w.Code, "wrong method falls through")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/emailpassword/email/exists?email=a%40b.com", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// Error boundary
// =============================================================================

func TestErrors(t *testing.T) {
	var handled []error
	ta := newTestApp(t, func(c *authrecipes.Config) {
		c.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
			handled = append(handled, err)
			w.WriteHeader(http.StatusBadGateway)
		}
	}, authrecipes.EmailPassword(emailpassword.Config{}))

	resp, out := ta.call(t, http.MethodPost, "/auth/signup", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing input param: formFields", out["message"])

	linking := form("jane@example.com", "validPass123")
	linking["shouldTryLinkingWithSessionUser"] = true
	resp, out = ta.call(t, http.MethodPost, "/auth/signin", linking, http.Header{"Authorization": {"Bearer garbage"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorised", out["message"])

	ta.core.Respond(http.MethodPost, "/recipe/signup", func(map[string]any, map[string][]string) (any, bool) {
		return map[string]any{"status": "SOMETHING_NEW"}, true
	})
	resp, _ = ta.call(t, http.MethodPost, "/auth/signup", form("jane@example.com", "validPass123"), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Len(t, handled, 1)
	assert.True(t, logging.HasCode(handled[0], "CORE_UNKNOWN_STATUS"))
}

func TestErrors_Default500(t *testing.T) {
	ta := newTestApp(t, nil, authrecipes.EmailPassword(emailpassword.Config{}))
	ta.core.Respond(http.MethodPost, "/recipe/signup", func(map[string]any, map[string][]string) (any, bool) {
		return map[string]any{"status": "SOMETHING_NEW"}, true
	})
	resp, out := ta.call(t, http.MethodPost, "/auth/signup", form("jane@example.com", "validPass123"), nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal Server Error", out["message"])
	assert.Equal(t, 1, ta.core.Calls(http.MethodPost, "/recipe/signup"))
}

// =============================================================================
// CORS
// =============================================================================

func TestCORS(t *testing.T) {
	ta := newTestApp(t, func(c *authrecipes.Config) {
		c.AllowedOrigins = []string{"https://*.example.com"}
	}, authrecipes.EmailPassword(emailpassword.Config{}))

	preflight := http.Header{
		"Origin":                        {"https://app.example.com"},
		"Access-Control-Request-Method": {"POST"},
	}
	resp, _ := ta.call(t, http.MethodOptions, "/auth/signin", nil, preflight)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "fdi-version")

	resp, _ = ta.call(t, http.MethodPost, "/auth/signup", form("jane@example.com", "validPass123"),
		http.Header{"Origin": {"https://evil.test"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

// =============================================================================
// Journey: passwordless first, then email and password on the same account
// =============================================================================

func TestJourney_LinksEmailPasswordToPasswordlessUser(t *testing.T) {
	ta := newTestApp(t, func(c *authrecipes.Config) {
		c.AccountLinking.ShouldDoAutomaticAccountLinking = func(context.Context, recipe.AccountInfoWithRecipeID, *recipe.User, session.Session, string) (accountlinking.ShouldLink, error) {
			return accountlinking.ShouldLink{ShouldAutomaticallyLink: true, ShouldRequireVerification: false}, nil
		}
	},
		authrecipes.Passwordless(passwordless.Config{
			ContactMethod: passwordless.ContactMethodEmail,
			FlowType:      passwordless.FlowTypeUserInputCode,
		}),
		authrecipes.EmailPassword(emailpassword.Config{}),
	)

	_, out := ta.call(t, http.MethodPost, "/auth/signinup/code", map[string]any{"email": "jane@example.com"}, nil)
	require.Equal(t, "OK", out["status"])
	code := ta.lastEmail(t).PasswordlessLogin.UserInputCode

	_, out = ta.call(t, http.MethodPost, "/auth/signinup/code/consume", map[string]any{
		"preAuthSessionId": out["preAuthSessionId"],
		"deviceId":         out["deviceId"],
		"userInputCode":    code,
	}, nil)
	require.Equal(t, "OK", out["status"])
	plUser := out["user"].(map[string]any)

	_, out = ta.call(t, http.MethodPost, "/auth/signup", form("jane@example.com", "validPass123"), nil)
	require.Equal(t, "OK", out["status"])
	epUser := out["user"].(map[string]any)
	assert.Equal(t, plUser["id"], epUser["id"])
	assert.Len(t, epUser["loginMethods"], 2)
}
