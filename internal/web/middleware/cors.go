package middleware

import (
	"net/http"
	"os"
	"strings"
)

// originAllowlist holds the origins permitted to call the API. Check-in
// stations and the staff console run on separate origins from the API, so
// the list comes from GATE_ALLOWED_ORIGINS (comma-separated). Localhost
// origins on any port are always allowed for development.
type originAllowlist map[string]struct{}

func loadOriginAllowlist() originAllowlist {
	allowed := make(originAllowlist)
	for o := range strings.SplitSeq(os.Getenv("GATE_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return allowed
}

func (a originAllowlist) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "https://localhost") {
		return true
	}
	_, ok := a[origin]
	return ok
}

// CORS returns middleware that sets CORS headers for allowed origins and
// answers preflight requests.
func CORS() func(http.Handler) http.Handler {
	allowed := loadOriginAllowlist()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowed.allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Requested-With")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
