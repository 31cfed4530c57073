package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/equiprent/rental-workflow/internal/application/service"
)

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	coordinator service.Coordinator
	health      HealthChecker
	version     string
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(coordinator service.Coordinator, health HealthChecker, version string, logger Logger) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		health:      health,
		version:     version,
		logger:      logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Database:  "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}

	status := http.StatusOK
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Health(ctx); err != nil {
			h.logger.Error("Health check failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    resp,
	})
}
