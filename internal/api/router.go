package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.observeMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/api/", s.handleRoot)
	r.Get("/api/v1/health", s.handleHealth)
	r.Get(s.cfg.WebSocket.Path, s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API running."})
}

// handleHealth reports the server version and the status of each hub backend.
// Any failing backend turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status, code := "ok", http.StatusOK
	for name, err := range s.hub.HealthCheck(r.Context()) {
		if err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"version":     s.version,
		"checks":      checks,
		"connections": s.ConnectionCount(),
	})
}
