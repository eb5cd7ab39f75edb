package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/usbroles/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, CodeNotFound)
	})

	// Operator page
	if s.index != nil {
		r.Handle("/", s.index)
		r.Handle("/assets/*", http.StripPrefix("/assets", s.index))
	}

	r.Route("/api", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket carries its token in the query string.
		r.Get("/ws", s.handleWebSocket)

		r.With(s.requirePermission(auth.PermDevicesRead)).Get("/auth/me", s.handleMe)
		r.With(s.requirePermission(auth.PermDevicesRead)).Get("/devices", s.handleListDevices)
		r.With(s.requirePermission(auth.PermHistoryRead)).Get("/devices/history", s.handleDeviceHistory)

		r.Route("/rules", func(r chi.Router) {
			r.With(s.requirePermission(auth.PermRulesRead)).Get("/", s.handleListRules)
			r.With(s.requirePermission(auth.PermRulesWrite)).Post("/", s.handleSaveRules)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
