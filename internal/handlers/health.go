package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/services"
)

// HealthHandler serves GET /health. Only PostgreSQL is critical: a missing
// similarity index, cache or purchase graph reports degraded and still
// answers 200 so the instance stays in rotation.
type HealthHandler struct {
	logger *logrus.Logger
	health *services.HealthService
}

func NewHealthHandler(logger *logrus.Logger, health *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		health: health,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	report := h.health.CheckHealth(c.Request.Context())

	c.Header("Cache-Control", "no-store")
	c.JSON(healthHTTPStatus(report.Status), report)
}

func healthHTTPStatus(status string) int {
	switch status {
	case services.StatusHealthy, services.StatusDegraded:
		return http.StatusOK
	case services.StatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
