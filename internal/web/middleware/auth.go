package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireStaff is middleware that guards staff endpoints (override
// decisions, reports, student administration) with a shared bearer token.
// An empty configured token disables the check, for single-operator setups
// running on a trusted network.
func RequireStaff(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := bearerToken(r)
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
