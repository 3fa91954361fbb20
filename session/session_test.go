package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

func newRecipe(t *testing.T, cfg session.Config) *session.Recipe {
	t.Helper()
	cfg.Logger = logging.Discard()
	r, err := session.New("Test", cfg)
	require.NoError(t, err)
	return r
}

func create(t *testing.T, r *session.Recipe, payload map[string]any) (*httptest.ResponseRecorder, session.Session) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/signinup/code/consume", nil)
	s, err := r.CreateNewSession(context.Background(), w, req, "", "rid-1", "user-1", payload)
	require.NoError(t, err)
	return w, s
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := session.New("Test", session.Config{SecretKey: "short"})
	require.Error(t, err)
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))
}

func TestCreateNewSession_SetsHeaderAndCookie(t *testing.T) {
	r := newRecipe(t, session.Config{})
	w, s := create(t, r, map[string]any{"role": "admin", "sub": "spoofed"})

	assert.Equal(t, "user-1", s.UserID())
	assert.Equal(t, recipe.RecipeUserID("rid-1"), s.RecipeUserID())
	assert.Equal(t, "public", s.TenantID())
	assert.NotEmpty(t, s.Handle())
	assert.Equal(t, map[string]any{"role": "admin"}, s.AccessTokenPayload())

	assert.NotEmpty(t, w.Header().Get(session.AccessTokenHeader))
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, session.AccessTokenCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestGetSession_FromBearerAndCookie(t *testing.T) {
	r := newRecipe(t, session.Config{})
	w, created := create(t, r, map[string]any{"role": "admin"})
	token := w.Header().Get(session.AccessTokenHeader)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s, err := r.GetSession(httptest.NewRecorder(), req, session.Options{SessionRequired: true})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, created.Handle(), s.Handle())
	assert.Equal(t, "admin", s.AccessTokenPayload()["role"])

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.AccessTokenCookie, Value: token})
	s, err = r.GetSession(httptest.NewRecorder(), req, session.Options{})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "user-1", s.UserID())
}

func TestGetSession_Missing(t *testing.T) {
	r := newRecipe(t, session.Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	s, err := r.GetSession(httptest.NewRecorder(), req, session.Options{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = r.GetSession(httptest.NewRecorder(), req, session.Options{SessionRequired: true})
	_, ok := recipe.IsUnauthorised(err)
	assert.True(t, ok)
}

func TestGetSession_RejectsForeignAndExpiredTokens(t *testing.T) {
	other := newRecipe(t, session.Config{SecretKey: "another-secret-key-123"})
	w, _ := create(t, other, nil)

	r := newRecipe(t, session.Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+w.Header().Get(session.AccessTokenHeader))
	_, err := r.GetSession(httptest.NewRecorder(), req, session.Options{SessionRequired: true})
	_, ok := recipe.IsUnauthorised(err)
	assert.True(t, ok)

	now := time.Now()
	clock := func() time.Time { return now }
	r = newRecipe(t, session.Config{Now: clock, AccessTokenValidity: time.Minute})
	w, _ = create(t, r, nil)
	now = now.Add(2 * time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+w.Header().Get(session.AccessTokenHeader))
	s, err := r.GetSession(httptest.NewRecorder(), req, session.Options{})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMergeIntoAccessTokenPayload_Reissues(t *testing.T) {
	r := newRecipe(t, session.Config{})
	w, s := create(t, r, map[string]any{"a": "1", "b": "2"})
	first := w.Header().Get(session.AccessTokenHeader)

	require.NoError(t, s.MergeIntoAccessTokenPayload(context.Background(), map[string]any{"a": nil, "c": "3", "tId": "x"}))
	second := w.Header().Get(session.AccessTokenHeader)
	assert.NotEqual(t, first, second)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+second)
	loaded, err := r.GetSession(httptest.NewRecorder(), req, session.Options{})
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, map[string]any{"b": "2", "c": "3"}, loaded.AccessTokenPayload())
	assert.Equal(t, "public", loaded.TenantID())
}

func TestMFAClaim(t *testing.T) {
	r := newRecipe(t, session.Config{})
	w, s := create(t, r, nil)

	claim := session.ReadMFAClaim(s)
	assert.True(t, claim.V)
	assert.Empty(t, claim.C)

	ctx := context.Background()
	require.NoError(t, session.MarkFactorCompleted(ctx, s, recipe.FactorEmailPassword, 100, []string{recipe.FactorOTPPhone}))
	claim = session.ReadMFAClaim(s)
	assert.False(t, claim.V)
	assert.True(t, claim.Completed(recipe.FactorEmailPassword))

	require.NoError(t, session.MarkFactorCompleted(ctx, s, recipe.FactorOTPPhone, 200, []string{recipe.FactorOTPPhone}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+w.Header().Get(session.AccessTokenHeader))
	loaded, err := r.GetSession(httptest.NewRecorder(), req, session.Options{})
	require.NoError(t, err)
	claim = session.ReadMFAClaim(loaded)
	assert.True(t, claim.V)
	assert.Equal(t, []string{recipe.FactorEmailPassword, recipe.FactorOTPPhone}, claim.CompletedFactors())
	assert.Equal(t, int64(200), claim.C[recipe.FactorOTPPhone])
}

func TestSignOut_RevokesHandleInManager(t *testing.T) {
	manager := scs.New()
	r := newRecipe(t, session.Config{Manager: manager})

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		_, err := r.CreateNewSession(req.Context(), w, req, "", "rid-1", "user-1", nil)
		require.NoError(t, err)
	})
	mux.HandleFunc("/signout", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, r.HandleAPIRequest(req.Context(), session.APISignOut, "public", w, req))
	})
	mux.Handle("/me", r.VerifySession(session.Options{SessionRequired: true})(
		http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte(session.FromContext(req.Context()).UserID()))
		})))
	srv := httptest.NewServer(manager.LoadAndSave(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/login")
	require.NoError(t, err)
	resp.Body.Close()
	cookies := resp.Cookies()
	require.Len(t, cookies, 2)

	get := func(path string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+path, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/me").StatusCode)
	assert.Equal(t, http.StatusOK, get("/signout").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/me").StatusCode)
}
