// Package session issues and verifies the access tokens that identify a
// signed in user across requests.
//
// Access tokens are HS256 JWTs carrying the user, the login method used, the
// tenant and an opaque session handle. They are returned in the
// st-access-token header and the sAccessToken cookie, and read back from an
// Authorization bearer header or the cookie. When an scs.SessionManager is
// configured, the handle is also recorded server side so a session can be
// revoked before its token expires.
package session

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/recipe"
)

// RecipeID is the recipe id of the session recipe.
const RecipeID = "session"

const (
	// AccessTokenHeader carries a freshly issued token on responses.
	AccessTokenHeader = "st-access-token"
	// AccessTokenCookie carries the token for browser clients.
	AccessTokenCookie = "sAccessToken"

	handleSessionKey = "sessionHandle"

	// APISignOut is the API id of the sign out route.
	APISignOut = "signout"
)

// Config configures token issuing.
type Config struct {
	// SecretKey signs access tokens. Defaults to $AUTHRECIPES_JWT_SECRET_KEY,
	// then to a development key.
	SecretKey string
	// Issuer defaults to "{AppName}-Issuer".
	Issuer string
	// AccessTokenValidity defaults to one hour.
	AccessTokenValidity time.Duration
	// CookieDomains lists extra domains the cookie is set on. The request host
	// is always included.
	CookieDomains []string
	// CookieSecure marks the cookie Secure.
	CookieSecure bool
	// Manager, when set, records session handles server side. Requests must
	// then pass through Manager.LoadAndSave.
	Manager *scs.SessionManager
	// Now overrides the clock.
	Now    func() time.Time
	Logger *slog.Logger
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults(appName string) *Config {
	if appName == "" {
		appName = "AuthRecipes"
	}
	if c.Issuer == "" {
		c.Issuer = appName + "-Issuer"
	}
	if c.AccessTokenValidity <= 0 {
		c.AccessTokenValidity = time.Hour
	}
	if c.SecretKey == "" {
		c.SecretKey = strings.TrimSpace(os.Getenv("AUTHRECIPES_JWT_SECRET_KEY"))
		if c.SecretKey == "" {
			c.SecretKey = "MyTestJWTSecretKey123456"
		}
	}
	c.Logger = logging.OrDefault(c.Logger)
	return c
}

// Options controls GetSession.
type Options struct {
	// SessionRequired makes a missing or invalid session an UnauthorisedError.
	SessionRequired bool
}

// Session is a verified session bound to one request.
type Session interface {
	UserID() string
	RecipeUserID() recipe.RecipeUserID
	TenantID() string
	Handle() string
	AccessTokenPayload() map[string]any
	// MergeIntoAccessTokenPayload merges update into the custom claims and
	// reissues the token. A nil value removes the key.
	MergeIntoAccessTokenPayload(ctx context.Context, update map[string]any) error
	// Revoke ends the session and clears the tokens on the response.
	Revoke(ctx context.Context) error
}

// Recipe issues and verifies sessions.
type Recipe struct {
	cfg Config
}

// New builds the session recipe.
func New(appName string, cfg Config) (*Recipe, error) {
	cfg.EnsureDefaults(appName)
	if len(cfg.SecretKey) < 16 {
		return nil, oops.Code("CONFIG_INVALID").Errorf("session secret key must be at least 16 bytes")
	}
	return &Recipe{cfg: cfg}, nil
}

// ID returns RecipeID.
func (r *Recipe) ID() string { return RecipeID }

// APIs lists the sign out route.
func (r *Recipe) APIs() []recipe.APIHandled {
	return []recipe.APIHandled{
		{ID: APISignOut, Method: http.MethodPost, PathWithoutBase: "/signout"},
	}
}

// HandleAPIRequest serves sign out. Signing out without a session is not an
// error.
func (r *Recipe) HandleAPIRequest(ctx context.Context, apiID, _ string, w http.ResponseWriter, req *http.Request) error {
	if apiID != APISignOut {
		return oops.Errorf("session: unknown api %q", apiID)
	}
	s, err := r.GetSession(w, req, Options{})
	if err != nil {
		return err
	}
	if s != nil {
		if err := s.Revoke(ctx); err != nil {
			return err
		}
	}
	return recipe.Send200(w, map[string]any{"status": "OK"})
}

// CreateNewSession issues a token for userID and attaches it to w.
func (r *Recipe) CreateNewSession(ctx context.Context, w http.ResponseWriter, req *http.Request, tenantID string, recipeUserID recipe.RecipeUserID, userID string, payload map[string]any) (Session, error) {
	if tenantID == "" {
		tenantID = recipe.DefaultTenantID
	}
	s := &sessionImpl{
		recipe: r,
		w:      w,
		req:    req,
		info: tokenInfo{
			userID:       userID,
			recipeUserID: string(recipeUserID),
			tenantID:     tenantID,
			handle:       ulid.Make().String(),
			payload:      maps.Clone(payload),
		},
	}
	if s.info.payload == nil {
		s.info.payload = map[string]any{}
	}
	for _, k := range protectedClaims {
		delete(s.info.payload, k)
	}
	if r.cfg.Manager != nil {
		r.cfg.Manager.Put(req.Context(), handleSessionKey, s.info.handle)
	}
	if err := s.issue(); err != nil {
		return nil, err
	}
	r.cfg.Logger.DebugContext(ctx, "session created",
		"user_id", userID, "tenant_id", tenantID, "session_handle", s.info.handle)
	return s, nil
}

// GetSession verifies the token carried by req. It returns nil, nil when no
// valid session exists and opts.SessionRequired is false.
func (r *Recipe) GetSession(w http.ResponseWriter, req *http.Request, opts Options) (Session, error) {
	tokens := accessTokens(req)
	if len(tokens) == 0 {
		if opts.SessionRequired {
			return nil, &recipe.UnauthorisedError{Message: "unauthorised"}
		}
		return nil, nil
	}

	for _, tok := range tokens {
		info, err := r.verifyAccessToken(tok)
		if err != nil {
			r.cfg.Logger.DebugContext(req.Context(), "access token rejected", "error", err)
			continue
		}
		if r.cfg.Manager != nil && r.cfg.Manager.GetString(req.Context(), handleSessionKey) != info.handle {
			r.cfg.Logger.DebugContext(req.Context(), "session handle revoked", "session_handle", info.handle)
			continue
		}
		return &sessionImpl{recipe: r, w: w, req: req, info: info}, nil
	}

	if opts.SessionRequired {
		return nil, recipe.NewUnauthorisedError("try refresh token")
	}
	return nil, nil
}

// ClearTokens expires the access token cookie on w.
func (r *Recipe) ClearTokens(w http.ResponseWriter, req *http.Request) {
	for _, domain := range r.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:    AccessTokenCookie,
			Domain:  domain,
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Unix(0, 0),
		})
	}
}

func (r *Recipe) cookieDomains() []string {
	domains := r.cfg.CookieDomains
	if slices.Index(domains, "") < 0 {
		domains = append(slices.Clone(domains), "")
	}
	return domains
}

func accessTokens(req *http.Request) []string {
	var out []string
	for _, h := range req.Header.Values("Authorization") {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok && strings.TrimSpace(tok) != "" {
			out = append(out, strings.TrimSpace(tok))
		}
	}
	for _, c := range req.CookiesNamed(AccessTokenCookie) {
		if c.Value != "" {
			out = append(out, c.Value)
		}
	}
	return out
}

type sessionImpl struct {
	recipe *Recipe
	w      http.ResponseWriter
	req    *http.Request
	info   tokenInfo
}

func (s *sessionImpl) UserID() string { return s.info.userID }
func (s *sessionImpl) RecipeUserID() recipe.RecipeUserID {
	return recipe.RecipeUserID(s.info.recipeUserID)
}
func (s *sessionImpl) TenantID() string { return s.info.tenantID }
func (s *sessionImpl) Handle() string   { return s.info.handle }
func (s *sessionImpl) AccessTokenPayload() map[string]any {
	return maps.Clone(s.info.payload)
}

func (s *sessionImpl) MergeIntoAccessTokenPayload(_ context.Context, update map[string]any) error {
	for k, v := range update {
		if slices.Contains(protectedClaims, k) {
			continue
		}
		if v == nil {
			delete(s.info.payload, k)
			continue
		}
		s.info.payload[k] = v
	}
	return s.issue()
}

func (s *sessionImpl) Revoke(ctx context.Context) error {
	if m := s.recipe.cfg.Manager; m != nil {
		m.Remove(s.req.Context(), handleSessionKey)
	}
	s.recipe.ClearTokens(s.w, s.req)
	s.recipe.cfg.Logger.DebugContext(ctx, "session revoked", "session_handle", s.info.handle)
	return nil
}

func (s *sessionImpl) issue() error {
	tok, err := s.recipe.signAccessToken(s.info)
	if err != nil {
		return err
	}
	if s.w == nil {
		return nil
	}
	s.w.Header().Set(AccessTokenHeader, tok)
	s.w.Header().Set("Access-Control-Expose-Headers", AccessTokenHeader)
	maxAge := int(s.recipe.cfg.AccessTokenValidity / time.Second)
	for _, domain := range s.recipe.cookieDomains() {
		http.SetCookie(s.w, &http.Cookie{
			Name:     AccessTokenCookie,
			Value:    tok,
			Domain:   domain,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.recipe.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   maxAge,
			Expires:  s.recipe.now().Add(s.recipe.cfg.AccessTokenValidity),
		})
	}
	return nil
}
