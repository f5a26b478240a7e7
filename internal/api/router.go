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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/devices", s.handleDevices)
	})

	return r
}

// handleHealth returns liveness and the build version.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns the full bridge status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status())
}

// deviceSummary is one row of the device listing.
type deviceSummary struct {
	ID         string `json:"id"`
	Properties int    `json:"properties"`
	Failed     bool   `json:"failed"`
}

// handleDevices returns a per-device summary of discovery state.
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	status := s.source.Status()

	devices := make([]deviceSummary, 0, len(status.Devices)+len(status.Failures))
	for id, props := range status.Devices {
		devices = append(devices, deviceSummary{ID: id, Properties: len(props)})
	}
	for id := range status.Failures {
		devices = append(devices, deviceSummary{ID: id, Failed: true})
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}
