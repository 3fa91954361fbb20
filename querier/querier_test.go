package querier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authrecipes/querier"
)

type recorded struct {
	method  string
	path    string
	query   url.Values
	headers http.Header
	body    map[string]any
}

type fakeCore struct {
	mu       sync.Mutex
	requests []recorded
	versions []string
	status   int
	versionN atomic.Int32
}

func (f *fakeCore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/apiversion" {
		f.versionN.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"versions": f.versions})
		return
	}

	rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.Query(), headers: r.Header.Clone()}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		w.Write([]byte("core exploded"))
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"status": "OK", "echo": r.URL.Path})
}

func (f *fakeCore) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newCore(t *testing.T, versions ...string) (*fakeCore, *httptest.Server) {
	t.Helper()
	if len(versions) == 0 {
		versions = []string{"2.21", "5.1", "5.2"}
	}
	f := &fakeCore{versions: versions}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestNew_ValidatesConnectionURI(t *testing.T) {
	_, err := querier.New(querier.Config{})
	require.Error(t, err)

	_, err = querier.New(querier.Config{ConnectionURI: "not a url"})
	require.Error(t, err)

	q, err := querier.New(querier.Config{ConnectionURI: "http://a:3567/; http://b:3567,http://c:3567"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:3567", "http://b:3567", "http://c:3567"}, q.Hosts())
}

func TestSendPostRequest_HeadersAndTenantPath(t *testing.T) {
	f, srv := newCore(t)
	q, err := querier.New(querier.Config{ConnectionURI: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	var out struct {
		Status string `json:"status"`
		Echo   string `json:"echo"`
	}
	err = q.WithRecipeID("passwordless").SendPostRequest(context.Background(),
		querier.TenantPath("acme", "/recipe/signinup/code"), map[string]any{"email": "a@b.co"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "OK", out.Status)
	assert.Equal(t, "/acme/recipe/signinup/code", out.Echo)

	req := f.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "secret", req.headers.Get("api-key"))
	assert.Equal(t, "5.2", req.headers.Get("cdi-version"))
	assert.Equal(t, "passwordless", req.headers.Get("rid"))
	assert.Equal(t, "a@b.co", req.body["email"])
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSend_APIKeyWithCustomTransport(t *testing.T) {
	f, srv := newCore(t)
	var seen []string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = append(seen, r.URL.Path+" "+r.Header.Get("api-key"))
		return http.DefaultTransport.RoundTrip(r)
	})
	q, err := querier.New(querier.Config{ConnectionURI: srv.URL, APIKey: "secret"}, querier.WithTransport(transport))
	require.NoError(t, err)

	require.NoError(t, q.SendGetRequest(context.Background(), querier.RootPath("/user/id"), nil, nil))

	assert.Equal(t, []string{"/apiversion secret", "/user/id secret"}, seen)
	assert.Equal(t, "secret", f.last().headers.Get("api-key"))
}

func TestTenantPath_DefaultsToPublic(t *testing.T) {
	assert.Equal(t, "/public/recipe/signinup/code", querier.TenantPath("", "/recipe/signinup/code").String())
	assert.Equal(t, "/user/id", querier.RootPath("/user/id").String())
}

func TestSendGetRequest_QueryParams(t *testing.T) {
	f, srv := newCore(t)
	q, err := querier.New(querier.Config{ConnectionURI: srv.URL})
	require.NoError(t, err)

	params := url.Values{}
	params.Set("preAuthSessionId", "abc")
	require.NoError(t, q.SendGetRequest(context.Background(), querier.TenantPath("", "/recipe/signinup/codes"), params, nil))

	req := f.last()
	assert.Equal(t, "abc", req.query.Get("preAuthSessionId"))
	assert.Empty(t, req.headers.Get("api-key"))
	assert.Empty(t, req.headers.Get("rid"))
}

func TestAPIVersion_NegotiatedOnce(t *testing.T) {
	f, srv := newCore(t, "3.0", "4.0")
	q, err := querier.New(querier.Config{ConnectionURI: srv.URL})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.SendGetRequest(context.Background(), querier.RootPath("/user/id"), nil, nil))
	}
	v, err := q.WithRecipeID("x").APIVersion(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "4.0", v)
	assert.Equal(t, int32(1), f.versionN.Load())
}

func TestAPIVersion_Incompatible(t *testing.T) {
	_, srv := newCore(t, "1.0")
	q, err := querier.New(querier.Config{ConnectionURI: srv.URL})
	require.NoError(t, err)

	err = q.SendGetRequest(context.Background(), querier.RootPath("/user/id"), nil, nil)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, querier.CodeIncompatible, oopsErr.Code())
}

func TestSend_BadStatus(t *testing.T) {
	f, srv := newCore(t)
	f.status = http.StatusInternalServerError
	q, err := querier.New(querier.Config{ConnectionURI: srv.URL})
	require.NoError(t, err)

	err = q.SendPostRequest(context.Background(), querier.TenantPath("", "/recipe/signinup/code"), map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, querier.StatusCode(err))
	assert.Contains(t, err.Error(), "core exploded")
}

func TestSend_Unreachable(t *testing.T) {
	_, srv := newCore(t)
	q, err := querier.New(querier.Config{ConnectionURI: srv.URL})
	require.NoError(t, err)
	srv.Close()

	err = q.SendGetRequest(context.Background(), querier.RootPath("/user/id"), nil, nil)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, querier.CodeUnreachable, oopsErr.Code())
	assert.Equal(t, 0, querier.StatusCode(err))
}

func TestSend_RoundRobin(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	handler := func(hits *atomic.Int32) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/apiversion" {
				json.NewEncoder(w).Encode(map[string]any{"versions": []string{"5.2"}})
				return
			}
			hits.Add(1)
			w.Write([]byte(`{"status":"OK"}`))
		}
	}
	a := httptest.NewServer(handler(&hitsA))
	defer a.Close()
	b := httptest.NewServer(handler(&hitsB))
	defer b.Close()

	q, err := querier.New(querier.Config{ConnectionURI: a.URL + ";" + b.URL})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.SendGetRequest(context.Background(), querier.RootPath("/user/id"), nil, nil))
	}

	// the version handshake takes the first slot on a
	assert.Equal(t, int32(2), hitsA.Load())
	assert.Equal(t, int32(2), hitsB.Load())
}

func TestUnknownStatus(t *testing.T) {
	err := querier.UnknownStatus(querier.TenantPath("", "/recipe/signinup/code"), "WAT")
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, querier.CodeUnknownStatus, oopsErr.Code())
}
