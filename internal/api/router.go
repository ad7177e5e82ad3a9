package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the component checks behind /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics.Handler())
	}

	r.Route("/things", func(r chi.Router) {
		r.Get("/", s.handleListThings)

		r.Route("/{thingID}", func(r chi.Router) {
			r.Get("/", s.handleGetThing)
			r.Get("/ws", s.handleWebSocket)

			r.Get("/properties", s.handleGetProperties)
			r.Put("/properties", s.handleSetProperties)
			r.Get("/properties/{name}", s.handleGetProperty)
			r.Put("/properties/{name}", s.handleSetProperty)

			r.Get("/actions", s.handleListActions)
			r.Post("/actions", s.handleRequestActions)
			r.Get("/actions/{action}", s.handleListActions)
			r.Post("/actions/{action}", s.handleRequestActions)
			r.Get("/actions/{action}/{actionID}", s.handleGetAction)
			r.Delete("/actions/{action}/{actionID}", s.handleRemoveAction)
			r.Post("/actions/{action}/{actionID}/cancel", s.handleCancelAction)

			r.Get("/events", s.handleListEvents)
			r.Get("/events/{event}", s.handleListEvents)

			if s.journal != nil {
				r.Get("/journal", s.handleJournal)
			}
		})
	})

	return r
}

// handleHealth reports server status and each component check.
// Any failing component makes the response 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components, err := s.HealthCheck(ctx)
	status, code := "ok", http.StatusOK
	if err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"things":     s.things.Len(),
		"components": components,
	})
}
