package handlers

import (
	"net/http"

	"github.com/recalld/recalld/pkg/api/response"
	"github.com/recalld/recalld/pkg/bootstrap"
	"github.com/recalld/recalld/pkg/engine"
	"github.com/recalld/recalld/pkg/version"
)

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	engine *engine.Engine
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(e *engine.Engine) *HealthHandler {
	return &HealthHandler{engine: e}
}

// Health is the liveness probe; it succeeds as long as the process serves.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Ready is the readiness probe. A degraded subsystem is still ready; only a
// dead key-value tier refuses traffic.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health()
	status := http.StatusOK
	if !h.engine.Ready() {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]any{
		"status":   health.Status,
		"degraded": health.Status == bootstrap.StatusDegraded,
	})
}

// Status reports the full health snapshot, cache counters and build info.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"health":  h.engine.Health(),
		"cache":   h.engine.CacheStats(),
		"version": version.Info(),
	})
}
