package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authrecipes/internal/coretest"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/session"
)

func testConfig(t *testing.T, coreURL string) serveConfig {
	t.Helper()
	cfg, err := loadServeConfig("", newFlags(t,
		"--core-uri", coreURL,
		"--secret-key", "0123456789abcdef0123456789abcdef",
	))
	require.NoError(t, err)
	return cfg
}

func TestBuildDemo_ConfigErrors(t *testing.T) {
	core := coretest.New(t)

	tests := []struct {
		name   string
		mutate func(*serveConfig)
	}{
		{"unknown provider", func(c *serveConfig) { c.Providers = []string{"myspace"} }},
		{"bad verification mode", func(c *serveConfig) { c.EmailVerification = "sometimes" }},
		{"short secret", func(c *serveConfig) { c.SecretKey = "short" }},
		{"bad flow type", func(c *serveConfig) { c.FlowType = "CARRIER_PIGEON" }},
		{"nothing enabled", func(c *serveConfig) { c.ContactMethod, c.EmailPassword = "", false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, core.URL)
			tt.mutate(&cfg)
			_, err := buildDemo(cfg, logging.Discard())
			assert.True(t, logging.HasCode(err, "CONFIG_INVALID"), "got %v", err)
		})
	}
}

func TestBuildDemo_Providers(t *testing.T) {
	t.Setenv("OAUTH2_GOOGLE_CLIENT_ID", "google-client")
	t.Setenv("OAUTH2_GITHUB_CLIENT_ID", "github-client")
	core := coretest.New(t)
	cfg := testConfig(t, core.URL)
	cfg.Providers = []string{"Google", "github"}
	cfg.EmailVerification = "optional"
	cfg.ServerSessions = true

	d, err := buildDemo(cfg, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, d.app.Recipe("thirdparty"))
	assert.NotNil(t, d.app.EmailVerification)
	assert.NotNil(t, d.sessions)
}

func TestDemoHandler(t *testing.T) {
	core := coretest.New(t)
	d, err := buildDemo(testConfig(t, core.URL), logging.Discard())
	require.NoError(t, err)
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)

	do := func(method, path, body string, header http.Header) (*http.Response, map[string]any) {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
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

	resp, _ := do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out := do(http.MethodPost, "/auth/signup",
		`{"formFields":[{"id":"email","value":"demo@example.com"},{"id":"password","value":"validPass123"}]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", out["status"])
	auth := http.Header{"Authorization": {"Bearer " + resp.Header.Get(session.AccessTokenHeader)}}

	resp, out = do(http.MethodGet, "/api/me", "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public", out["tenantId"])
	userID, _ := out["userId"].(string)
	assert.NotEmpty(t, userID)

	resp, out = do(http.MethodGet, "/api/me/user", "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user, _ := out["user"].(map[string]any)
	assert.Equal(t, userID, user["id"])
}
