package handler

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds each dependency check of /ready.
const readyTimeout = 2 * time.Second

// Pinger is a dependency /ready checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a health handler checking each named dependency.
// Nil entries are skipped.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Pinger, len(checks))}
	for name, p := range checks {
		if p != nil {
			h.checks[name] = p
		}
	}
	return h
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, p := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"failed": failures,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
