package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/service"
)

type authUserCtxKey struct{}

// Proxy headers carrying the UI principal. X-Email is accepted as a legacy
// alias for X-User-Email.
const (
	headerUserEmail  = "X-User-Email"
	headerEmailAlias = "X-Email"
	headerBootstrap  = "X-Admin-Bootstrap"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/healthz":       true,
	"/healthz/ready": true,
}

// Auth returns middleware that resolves the request principal.
//
// Engine traffic authenticates with `Authorization: Bearer <api key>`. UI
// traffic carries a proxy-set email header; the first request ever may
// bootstrap an admin with X-Admin-Bootstrap. When authEnabled is false an
// admin principal is injected, which unlocks all visibility for local dev.
func Auth(authSvc *service.AuthService, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				devUser := &user.User{
					ID:     "00000000-0000-0000-0000-000000000000",
					Email:  "admin@localhost",
					Name:   "Admin",
					Role:   user.RoleAdmin,
					Active: true,
				}
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), devUser)))
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// Bearer key: engine traffic.
			if h := r.Header.Get("Authorization"); h != "" {
				rawKey, ok := strings.CutPrefix(h, "Bearer ")
				if !ok {
					unauthorized(w, "authorization scheme must be Bearer")
					return
				}
				u, err := authSvc.ValidateKey(r.Context(), rawKey)
				if err != nil {
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
				return
			}

			// Proxy email header: UI traffic.
			email := r.Header.Get(headerUserEmail)
			if email == "" {
				email = r.Header.Get(headerEmailAlias)
			}
			if email == "" {
				unauthorized(w, "authorization required")
				return
			}

			u, err := authSvc.ResolveUser(r.Context(), email)
			if err != nil {
				if secret := r.Header.Get(headerBootstrap); secret != "" {
					u, err = authSvc.Bootstrap(r.Context(), secret, email)
				}
				if err != nil {
					unauthorized(w, "unknown user")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
		})
	}
}

// UserFromContext returns the authenticated user from the request context.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(authUserCtxKey{}).(*user.User)
	return u
}

// AuthUserCtxKeyForTest returns the context key used for storing the auth user.
// Exported only for use in tests that need to inject a user into the context.
func AuthUserCtxKeyForTest() any {
	return authUserCtxKey{}
}

func withUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, authUserCtxKey{}, u)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
