package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/intermernet/finishline/internal/auth"
)

// contextKey is a custom type used for keys in context.Context. Using a custom
// type prevents collisions between context keys defined in different packages.
type contextKey string

// subjectContextKey holds the authenticated token subject.
const subjectContextKey = contextKey("subject")

// authMiddleware protects the mutation routes. It accepts a JWT from the
// 'Authorization' header or, for clients that cannot set headers, a 'token'
// URL query parameter, and requires the admin role.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) == 2 && strings.ToLower(headerParts[0]) == "bearer" {
			tokenString = headerParts[1]
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			s.errorJSON(w, newHTTPError(http.StatusUnauthorized, "authorization token is required"))
			return
		}

		claims, err := auth.ValidateJWT(tokenString, s.config.JwtSecret)
		if err != nil {
			s.errorJSON(w, newHTTPError(http.StatusUnauthorized, "invalid or expired token"))
			return
		}
		if claims.Role != auth.RoleAdmin {
			s.errorJSON(w, newHTTPError(http.StatusForbidden, "admin role required"))
			return
		}

		ctx := context.WithValue(r.Context(), subjectContextKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// subjectFromContext returns the token subject set by authMiddleware.
func subjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectContextKey).(string)
	return subject
}

// requestLogger logs one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
