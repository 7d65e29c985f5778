package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ambjn/ostium-whop/internal/gateway"
)

// HealthService probes node connectivity and gateway state.
type HealthService interface {
	HealthCheck(ctx context.Context) gateway.Health
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	svc    HealthService
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(svc HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{svc: svc, logger: logger}
}

// HealthCheck reports gateway status, node connectivity and network info.
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.svc.HealthCheck(r.Context())
	health.Timestamp = time.Now().UTC()

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
