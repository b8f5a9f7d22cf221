package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pageshot/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports capture slot usage and degrades status when > 80% of slots are busy.
func Health(cp Capturer, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := cp.Stats()

		status := "healthy"
		if stats.MaxConcurrent > 0 && stats.ActiveCaptures > int(float64(stats.MaxConcurrent)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:       status,
			Uptime:       time.Since(startTime).Round(time.Second).String(),
			CaptureStats: stats,
			Version:      Version,
		})
	}
}
