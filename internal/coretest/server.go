// Package coretest is an in-process fake of the auth core, for tests.
//
// It implements the core endpoints the recipes call, keeps all state in
// memory behind one mutex (so concurrent consumes of the same code are
// serialised exactly as the real core serialises them), counts calls per
// endpoint and lets tests force responses.
package coretest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

const (
	// DefaultMaxCodeInputAttempts matches the core's default.
	DefaultMaxCodeInputAttempts = 5
	// DefaultCodeLifetime is 15 minutes in milliseconds.
	DefaultCodeLifetime int64 = 900000
)

// Responder may answer a request instead of the fake. Returning handled=false
// lets the fake handle it.
type Responder func(body map[string]any, query map[string][]string) (resp any, handled bool)

// Server is the fake core.
type Server struct {
	*httptest.Server

	// MaxCodeInputAttempts and CodeLifetime may be changed before the first request.
	MaxCodeInputAttempts int
	CodeLifetime         int64
	Versions             []string
	Now                  func() time.Time

	mu           sync.Mutex
	devices      map[string]*device // by preAuthSessionId
	loginMethods map[string]*loginMethod
	primaryOf    map[string]string // recipe user id -> primary user id
	primaries    map[string]bool
	verified     map[string]bool // recipeUserId|email
	tokens       map[string]*authToken
	tenants      map[string]*Tenant

	spyMu     sync.Mutex
	calls     map[string]int
	bodies    map[string]map[string]any
	responder map[string]Responder
}

// New starts a fake core. It is closed automatically when the test ends.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		MaxCodeInputAttempts: DefaultMaxCodeInputAttempts,
		CodeLifetime:         DefaultCodeLifetime,
		Versions:             []string{"4.0", "5.0", "5.1", "5.2"},
		Now:                  time.Now,
		devices:              map[string]*device{},
		loginMethods:         map[string]*loginMethod{},
		primaryOf:            map[string]string{},
		primaries:            map[string]bool{},
		verified:             map[string]bool{},
		tokens:               map[string]*authToken{},
		tenants:              map[string]*Tenant{"public": {TenantID: "public"}},
		calls:                map[string]int{},
		bodies:               map[string]map[string]any{},
		responder:            map[string]Responder{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.spy)

	r.HandleFunc("/apiversion", s.handleAPIVersion).Methods(http.MethodGet)
	r.HandleFunc("/user/id", s.handleGetUser).Methods(http.MethodGet)
	r.HandleFunc("/recipe/user", s.handleUpdateUser).Methods(http.MethodPut)
	r.HandleFunc("/recipe/user/email/verify", s.handleIsEmailVerified).Methods(http.MethodGet)
	r.HandleFunc("/recipe/user/email/verify/remove", s.handleUnverifyEmail).Methods(http.MethodPost)
	r.HandleFunc("/recipe/accountlinking/user/primary/check", s.handleCanCreatePrimary).Methods(http.MethodGet)
	r.HandleFunc("/recipe/accountlinking/user/primary", s.handleCreatePrimary).Methods(http.MethodPost)
	r.HandleFunc("/recipe/accountlinking/user/link/check", s.handleCanLink).Methods(http.MethodGet)
	r.HandleFunc("/recipe/accountlinking/user/link", s.handleLink).Methods(http.MethodPost)

	t := r.PathPrefix("/{tenantId:[a-zA-Z0-9_-]+}").Subrouter()
	t.HandleFunc("/recipe/signinup/code", s.handleCreateCode).Methods(http.MethodPost)
	t.HandleFunc("/recipe/signinup/code/check", s.handleCheckCode).Methods(http.MethodPost)
	t.HandleFunc("/recipe/signinup/code/consume", s.handleConsumeCode).Methods(http.MethodPost)
	t.HandleFunc("/recipe/signinup/code/remove", s.handleRevokeCode).Methods(http.MethodPost)
	t.HandleFunc("/recipe/signinup/codes", s.handleListCodes).Methods(http.MethodGet)
	t.HandleFunc("/recipe/signinup/codes/remove", s.handleRevokeAllCodes).Methods(http.MethodPost)
	t.HandleFunc("/recipe/signinup", s.handleThirdPartySignInUp).Methods(http.MethodPost)
	t.HandleFunc("/recipe/signup", s.handleEmailPasswordSignUp).Methods(http.MethodPost)
	t.HandleFunc("/recipe/signin", s.handleEmailPasswordSignIn).Methods(http.MethodPost)
	t.HandleFunc("/recipe/user/password/reset/token", s.handleCreateResetToken).Methods(http.MethodPost)
	t.HandleFunc("/recipe/user/password/reset/token/consume", s.handleConsumeResetToken).Methods(http.MethodPost)
	t.HandleFunc("/recipe/user/email/verify/token", s.handleCreateEVToken).Methods(http.MethodPost)
	t.HandleFunc("/recipe/user/email/verify/token/remove", s.handleRevokeEVTokens).Methods(http.MethodPost)
	t.HandleFunc("/recipe/user/email/verify", s.handleVerifyEmail).Methods(http.MethodPost)
	t.HandleFunc("/users/by-accountinfo", s.handleListUsersByAccountInfo).Methods(http.MethodGet)
	t.HandleFunc("/recipe/multitenancy/tenant/v2", s.handleGetTenant).Methods(http.MethodGet)
	t.HandleFunc("/recipe/multitenancy/tenant/user", s.handleAssociateUser).Methods(http.MethodPost)

	return r
}

// endpointKey is "METHOD /path" with the tenant segment removed.
func endpointKey(r *http.Request) string {
	path := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			path = tmpl
			if i := strings.Index(path, "}"); strings.HasPrefix(path, "/{tenantId") && i > 0 {
				path = path[i+1:]
			}
		}
	}
	return r.Method + " " + path
}

func (s *Server) spy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := endpointKey(r)

		var body map[string]any
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(data))
			if len(data) > 0 {
				_ = json.Unmarshal(data, &body)
			}
		}

		s.spyMu.Lock()
		s.calls[key]++
		s.bodies[key] = body
		responder := s.responder[key]
		s.spyMu.Unlock()

		if responder != nil {
			if resp, handled := responder(body, r.URL.Query()); handled {
				writeJSON(w, resp)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Calls returns how many times method+path was requested. path omits the
// tenant segment, e.g. Calls("POST", "/recipe/signinup/code/check").
func (s *Server) Calls(method, path string) int {
	s.spyMu.Lock()
	defer s.spyMu.Unlock()
	return s.calls[method+" "+path]
}

// LastBody returns the JSON body of the last method+path request.
func (s *Server) LastBody(method, path string) map[string]any {
	s.spyMu.Lock()
	defer s.spyMu.Unlock()
	return s.bodies[method+" "+path]
}

// Respond installs fn in front of method+path.
func (s *Server) Respond(method, path string, fn Responder) {
	s.spyMu.Lock()
	defer s.spyMu.Unlock()
	s.responder[method+" "+path] = fn
}

// ResetCalls clears the call counters.
func (s *Server) ResetCalls() {
	s.spyMu.Lock()
	defer s.spyMu.Unlock()
	s.calls = map[string]int{}
	s.bodies = map[string]map[string]any{}
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"versions": s.Versions})
}

func (s *Server) nowMillis() int64 {
	return s.Now().UnixMilli()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(msg))
}

func decode(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func status(s string) map[string]any {
	return map[string]any{"status": s}
}
