package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", s.handleListLocations)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetLocation)
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{deviceID}", s.handleGetDevice)
				r.Get("/connection", s.handleGetConnection)
				r.Get("/history", s.handleHistory)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports liveness plus the push connection state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.push != nil {
		resp["push"] = s.push.Status().State
	}
	writeJSON(w, http.StatusOK, resp)
}
