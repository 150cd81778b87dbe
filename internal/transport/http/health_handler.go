package http

import (
	"context"
	"net/http"
	"time"

	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/pkg/httputils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status" example:"ok"`
	Storage   string `json:"storage,omitempty" example:"ok"`
	Timestamp string `json:"timestamp" example:"2024-01-15T10:30:00Z"`
}

// HealthHandler handles health and metrics endpoints
type HealthHandler struct {
	ping func(context.Context) error
}

// NewHealthHandler creates a health handler. ping checks the storage backend
// and may be nil.
func NewHealthHandler(ping func(context.Context) error) *HealthHandler {
	return &HealthHandler{ping: ping}
}

// Health returns the health status of the service
// @Summary      Health check
// @Description  Returns the health status of the API server and its storage
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Storage = "ok"
		if err := h.ping(ctx); err != nil {
			logger.Warn("storage health check failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Storage = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	httputils.RespondJSON(w, status, resp)
}

// Metrics returns Prometheus metrics
func (h *HealthHandler) Metrics() http.Handler {
	return promhttp.Handler()
}
