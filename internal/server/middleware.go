package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAPIKey authenticates every request against the configured shared
// secret. The key arrives in the X-API-Key header or, for clients that
// cannot set headers, the api_key query parameter. Missing and wrong keys
// get the same response so probing reveals nothing.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		// No configured secret means no way in, not an open server.
		if s.cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authExempt lists the paths served without credentials.
func (s *Server) authExempt(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/artifacts/")
}
