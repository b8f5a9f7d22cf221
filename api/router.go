package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pageshot/api/handler"
	"github.com/use-agent/pageshot/api/middleware"
	"github.com/use-agent/pageshot/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	Capture: RateLimit (if enabled)
//
// Health endpoint is outside the rate limiter so monitoring probes always work.
// ctx bounds the rate limiter's background sweeper.
func NewRouter(ctx context.Context, cp handler.Capturer, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	var limited []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		limited = append(limited, middleware.NewRateLimiter(ctx, cfg.RateLimit).Middleware())
	}

	// Path endpoint: /screenshot/<percent-encoded url>/<WxH>/<format>
	r.GET("/screenshot/*path", append(limited, handler.ScreenshotPath(cp, cfg.Server.RequestTimeout))...)

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(cp, startTime))

	protected := v1.Group("", limited...)
	protected.POST("/screenshot", handler.PostScreenshot(cp, cfg.Server.RequestTimeout))

	return r
}
