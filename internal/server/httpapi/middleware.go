package httpapi

import (
	"net/http"
	"strings"

	"github.com/akazakov/vpnmanager/internal/server/auth"
)

// auth wraps a handler with bearer-token verification.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}

		role, err := auth.RoleFromToken(token, s.opts.SecretKey)
		if err != nil || role != auth.RoleAdmin {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}

		next(w, r)
	})
}
