package session

import (
	"context"
	"net/http"
)

type contextKey struct{}

// FromContext returns the session stored by VerifySession, or nil.
func FromContext(ctx context.Context) Session {
	s, _ := ctx.Value(contextKey{}).(Session)
	return s
}

// WithSession returns ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// VerifySession loads the session for each request and stores it in the
// request context. With opts.SessionRequired, requests without a valid
// session get a 401 and never reach next.
func (r *Recipe) VerifySession(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s, err := r.GetSession(w, req, opts)
			if err != nil {
				r.ClearTokens(w, req)
				http.Error(w, `{"message":"unauthorised"}`, http.StatusUnauthorized)
				return
			}
			if s != nil {
				req = req.WithContext(WithSession(req.Context(), s))
			}
			next.ServeHTTP(w, req)
		})
	}
}
