package middleware

import (
	"net/http"
	"slices"
)

// RequireScope wraps [Guard] and additionally requires every listed scope in
// the token's scope claim.
func RequireScope(parser TokenParser, scopes ...string) func(http.Handler) http.Handler {
	guard := Guard(parser)
	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := ClaimsFromContext(r.Context())
			granted := claims.Scopes()
			for _, s := range scopes {
				if !slices.Contains(granted, s) {
					w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+s+`"`)
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// RequireRole wraps [Guard] and requires at least one of roles in the roles
// claim.
func RequireRole(parser TokenParser, roles ...string) func(http.Handler) http.Handler {
	guard := Guard(parser)
	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := ClaimsFromContext(r.Context())
			for _, role := range roles {
				if slices.Contains(claims.Roles, role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
	}
}
