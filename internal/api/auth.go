package api

import (
	"log/slog"
	"net/http"

	"github.com/intermernet/finishline/internal/auth"
)

// handleAdminLogin exchanges the admin password for a signed token.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.errorJSON(w, err)
		return
	}

	if req.Password == "" || !auth.CheckPasswordHash(req.Password, s.config.AdminPasswordHash) {
		slog.Warn("Admin login rejected", "remote", r.RemoteAddr)
		s.errorJSON(w, newHTTPError(http.StatusUnauthorized, "invalid password"))
		return
	}

	token, err := auth.GenerateJWT(auth.RoleAdmin, auth.RoleAdmin, s.config.JwtSecret, s.config.TokenTTL)
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	slog.Info("Admin logged in", "remote", r.RemoteAddr)
	s.ok(w, http.StatusOK, loginResponse{Token: token}, "")
}
