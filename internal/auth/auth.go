// Package auth guards the TLE cache administration routes with a shared
// bearer token. Read-only endpoints stay open so dashboards and the stream
// work without credentials.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// publicRoutes serve position data or health state and never need a token.
var publicRoutes = map[string]bool{
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/tle/metadata":     true,
	"/api/v1/positions":        true,
	"/api/v1/stream/positions": true,
}

// publicTrees match every path below them, e.g. /api/v1/groundtrack/{name}.
var publicTrees = []string{
	"/api/v1/groundtrack/",
}

func isPublic(path string) bool {
	if publicRoutes[path] {
		return true
	}
	for _, tree := range publicTrees {
		if strings.HasPrefix(path, tree) {
			return true
		}
	}
	return false
}

// bearerToken extracts the credential from an "Authorization: Bearer <token>"
// header. A header in any other scheme yields ok == false.
func bearerToken(r *http.Request) (token string, ok bool) {
	token, ok = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}

// Middleware rejects requests to the refresh and clear routes that do not
// carry cfg.Token. With auth disabled every request passes through.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	want := []byte(cfg.Token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
