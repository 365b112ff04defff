package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
)

// cors enforces the origin allow-list. Requests without an Origin
// header (server-to-server, curl) pass through untouched. A listed
// origin gets the reflection headers; an unlisted one is rejected with
// 500 before the handler runs, matching the behavior browsers probe
// for.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !s.originAllowed(origin) {
			s.logger.Warn("origin_rejected", slog.String("origin", origin))
			http.Error(w, "origin not allowed", http.StatusInternalServerError)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
