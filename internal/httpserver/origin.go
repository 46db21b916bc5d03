package httpserver

import (
	"net/http"
	"strings"

	"github.com/fast-security-fast/Fast-security-server/internal/origin"
)

// originMiddleware rejects browser requests from origins outside the
// allowlist and answers CORS preflights. Requests without an Origin header
// (cameras, curl, native apps) pass untouched.
func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			normalized, originHost, ok := origin.NormalizeHeader(originHeader)
			if !ok || !origin.IsAllowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins) {
				WriteJSON(w, http.StatusForbidden, map[string]any{"error": "origin_not_allowed"})
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", normalized)
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type,X-SOS-Secret,X-Request-ID")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
