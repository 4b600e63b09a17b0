package api

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/openclaw/acct-agent/internal/config"
)

// AuthMiddleware gates every /agent/v1 route behind X-API-Key, compared
// against bcrypt hashes from config.AuthConfig.Keys (SPEC_FULL.md §4.7:
// "the ambient auth layer the Non-goal's phrasing presupposes exists").
// Mode "none" disables the check entirely — the default for local/dev use,
// matching the teacher's AGENT_AUTH_MODE env override.
func AuthMiddleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.Mode != "api_key" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" || !anyKeyMatches(cfg.Keys, key) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing X-API-Key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func anyKeyMatches(hashes map[string]string, candidate string) bool {
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil {
			return true
		}
	}
	return false
}
