package main

import (
	"database/sql"
	"net/http"
	"time"

	"lms-platform/internal/auth"
	"lms-platform/internal/config"
	"lms-platform/internal/guard"
	"lms-platform/internal/httpapi"
	"lms-platform/internal/metrics"
	"lms-platform/internal/ratelimit"
	"lms-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg      config.Config
	db       *sql.DB
	metrics  *metrics.Metrics
	guard    *guard.Guard
	edge     *guard.EdgeGuard
	handlers httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, d.cfg.DB.PingTimeout); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	api := r.Group("/api")
	if d.cfg.RateLimit.APIRate > 0 {
		throttle := ratelimit.NewThrottle(d.cfg.RateLimit.APIRate, d.cfg.RateLimit.APIBurst)
		production := d.cfg.IsProduction()
		api.Use(throttle.Middleware(func(c *gin.Context, retryAfter time.Duration) {
			d.metrics.RateLimited("api")
			guard.WriteError(c, auth.RateLimited(retryAfter), production)
		}))
	}
	d.handlers.Register(api, d.guard)

	// Everything else is a page request. The frontend is served elsewhere;
	// this process only answers the edge decision for pages it receives.
	r.NoRoute(d.edge.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
}
