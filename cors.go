package authrecipes

import (
	"net/http"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

var corsAllowedHeaders = []string{"content-type", recipe.FDIVersionHeader, "rid", "authorization", "st-auth-mode"}

type corsPolicy struct {
	origins []glob.Glob
}

func newCORSPolicy(patterns []string) (*corsPolicy, error) {
	p := &corsPolicy{}
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.TrimSuffix(pattern, "/"))
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("origin", pattern).Wrapf(err, "invalid allowed origin")
		}
		p.origins = append(p.origins, g)
	}
	return p, nil
}

func (p *corsPolicy) allows(origin string) bool {
	for _, g := range p.origins {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// middleware adds CORS headers for allowed origins and answers their
// preflight requests. Requests from other origins pass through untouched.
func (p *corsPolicy) middleware(next http.Handler) http.Handler {
	if len(p.origins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !p.allows(origin) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", session.AccessTokenHeader)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE")
			h.Set("Access-Control-Allow-Headers", strings.Join(corsAllowedHeaders, ", "))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
