package emailverification_test

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

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/internal/coretest"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

type fixture struct {
	core   *coretest.Server
	sess   *session.Recipe
	ev     *emailverification.Recipe
	emails []delivery.EmailInput
}

func setup(t *testing.T, cfg emailverification.Config) *fixture {
	t.Helper()
	f := &fixture{core: coretest.New(t)}
	q, err := querier.New(querier.Config{ConnectionURI: f.core.URL})
	require.NoError(t, err)
	f.sess, err = session.New("Test", session.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	al, err := accountlinking.New(q, accountlinking.Config{Logger: logging.Discard()})
	require.NoError(t, err)

	cfg.Logger = logging.Discard()
	cfg.EmailDelivery.Service = delivery.ServiceFunc[delivery.EmailInput](func(_ context.Context, in delivery.EmailInput) error {
		f.emails = append(f.emails, in)
		return nil
	})
	f.ev, err = emailverification.New(cfg, emailverification.Deps{
		Querier:        q,
		AppInfo:        recipe.AppInfo{AppName: "Test", APIDomain: "http://api.test", WebsiteDomain: "http://web.test", WebsiteBasePath: "/auth"},
		Session:        f.sess,
		AccountLinking: al,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) login(t *testing.T, rid recipe.RecipeUserID) string {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
	_, err := f.sess.CreateNewSession(context.Background(), w, req, "public", rid, rid.String(), nil)
	require.NoError(t, err)
	return w.Header().Get(session.AccessTokenHeader)
}

func (f *fixture) call(t *testing.T, apiID, method, token string, body any) (*httptest.ResponseRecorder, error) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/auth/user/email/verify", &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	err := f.ev.HandleAPIRequest(req.Context(), apiID, "public", w, req)
	return w, err
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	core := coretest.New(t)
	q, err := querier.New(querier.Config{ConnectionURI: core.URL})
	require.NoError(t, err)
	_, err = emailverification.New(emailverification.Config{Mode: "SOMETIMES"}, emailverification.Deps{Querier: q})
	require.Error(t, err)
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))
}

func TestVerificationFlow(t *testing.T) {
	f := setup(t, emailverification.Config{})
	rid := f.core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com", Password: "secret123"})
	token := f.login(t, rid)

	w, err := f.call(t, emailverification.APIIsEmailVerified, http.MethodGet, token, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "OK", "isVerified": false}, decodeBody(t, w))

	w, err = f.call(t, emailverification.APIGenerateToken, http.MethodPost, token, nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", decodeBody(t, w)["status"])
	require.Len(t, f.emails, 1)
	sent := f.emails[0]
	assert.Equal(t, delivery.TypeEmailVerification, sent.Type)
	assert.Equal(t, "a@b.com", sent.Email)

	link, err := url.Parse(sent.EmailVerification.EmailVerifyLink)
	require.NoError(t, err)
	assert.Equal(t, "web.test", link.Host)
	assert.Equal(t, "/auth/verify-email", link.Path)
	assert.Equal(t, "public", link.Query().Get("tenantId"))

	w, err = f.call(t, emailverification.APIVerifyEmail, http.MethodPost, "",
		map[string]any{"method": "token", "token": link.Query().Get("token")})
	require.NoError(t, err)
	out := decodeBody(t, w)
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, "a@b.com", out["user"].(map[string]any)["email"])
	assert.True(t, f.core.IsEmailVerified(rid, "a@b.com"))

	w, err = f.call(t, emailverification.APIVerifyEmail, http.MethodPost, "",
		map[string]any{"method": "token", "token": link.Query().Get("token")})
	require.NoError(t, err)
	assert.Equal(t, emailverification.StatusInvalidToken, decodeBody(t, w)["status"])

	w, err = f.call(t, emailverification.APIGenerateToken, http.MethodPost, token, nil)
	require.NoError(t, err)
	assert.Equal(t, emailverification.StatusEmailAlreadyVerified, decodeBody(t, w)["status"])
	assert.Len(t, f.emails, 1)
}

func TestGenerateToken_PhoneOnlyCountsAsVerified(t *testing.T) {
	f := setup(t, emailverification.Config{})
	rid := f.core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, PhoneNumber: "+14155550100"})

	w, err := f.call(t, emailverification.APIGenerateToken, http.MethodPost, f.login(t, rid), nil)
	require.NoError(t, err)
	assert.Equal(t, emailverification.StatusEmailAlreadyVerified, decodeBody(t, w)["status"])
	assert.Empty(t, f.emails)
}

func TestAPIs_RequireSession(t *testing.T) {
	f := setup(t, emailverification.Config{})
	_, err := f.call(t, emailverification.APIGenerateToken, http.MethodPost, "", nil)
	_, ok := recipe.IsUnauthorised(err)
	assert.True(t, ok)

	_, err = f.call(t, emailverification.APIIsEmailVerified, http.MethodGet, "", nil)
	_, ok = recipe.IsUnauthorised(err)
	assert.True(t, ok)
}

func TestVerifyEmail_BadInput(t *testing.T) {
	f := setup(t, emailverification.Config{})
	for _, body := range []map[string]any{
		{"method": "otp", "token": "x"},
		{"method": "token"},
	} {
		_, err := f.call(t, emailverification.APIVerifyEmail, http.MethodPost, "", body)
		_, ok := recipe.IsBadInput(err)
		assert.True(t, ok, "body %v", body)
	}
}

func TestMarkEmailAsVerified(t *testing.T) {
	f := setup(t, emailverification.Config{})
	ctx := context.Background()
	rid := f.core.AddUser(coretest.SeedUser{RecipeID: recipe.IDThirdParty, Email: "x@y.com",
		ThirdParty: &recipe.ThirdPartyInfo{ID: "google", UserID: "g1"}})

	require.NoError(t, f.ev.MarkEmailAsVerified(ctx, "public", rid, "x@y.com"))
	assert.True(t, f.core.IsEmailVerified(rid, "x@y.com"))
	require.NoError(t, f.ev.MarkEmailAsVerified(ctx, "public", rid, "x@y.com"))

	require.NoError(t, f.ev.Impl.UnverifyEmail(ctx, rid, "x@y.com"))
	verified, err := f.ev.Impl.IsEmailVerified(ctx, rid, "x@y.com")
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestRequireVerified(t *testing.T) {
	f := setup(t, emailverification.Config{})
	rid := f.core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com", Password: "secret123"})
	token := f.login(t, rid)

	h := f.sess.VerifySession(session.Options{SessionRequired: true})(
		f.ev.RequireVerified(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	serve := func() int {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusForbidden, serve())
	require.NoError(t, f.ev.MarkEmailAsVerified(context.Background(), "public", rid, "a@b.com"))
	assert.Equal(t, http.StatusNoContent, serve())
}
