package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all the API endpoints and middleware for the application.
func (s *Server) RegisterRoutes(r *chi.Mux) {
	// --- Global Middleware (Applied to ALL routes) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", s.config.FrontendURL},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		// --- Public Routes ---
		// Viewers read and subscribe without credentials.
		r.Get("/results", s.handleGetResults)
		r.Get("/stream", s.handleStream)
		r.Get("/clock/status", s.handleClockStatus)
		r.Post("/admin/login", s.handleAdminLogin)

		// --- Admin Routes ---
		// Every mutation requires an admin token.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/results", s.handleReportFinish)
			r.Put("/results/{finisherID}", s.handleUpdateFinisher)
			r.Delete("/results/{finisherID}", s.handleDeleteFinisher)
			r.Post("/reorder", s.handleReorder)
			r.Post("/roster/upload", s.handleRosterUpload)

			r.Post("/clock/start", s.handleClockStart)
			r.Post("/clock/stop", s.handleClockStop)
			r.Post("/clock/reset", s.handleClockReset)
			r.Post("/clock/edit", s.handleClockEdit)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DB().PingContext(r.Context()); err != nil {
		s.errorJSON(w, err, http.StatusServiceUnavailable)
		return
	}
	s.ok(w, http.StatusOK, map[string]int{"streamClients": s.broker.ClientCount()}, "")
}
