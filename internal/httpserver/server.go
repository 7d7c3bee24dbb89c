package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PratikDhanave/conversions-gateway/internal/auth"
	"github.com/PratikDhanave/conversions-gateway/internal/config"
	"github.com/PratikDhanave/conversions-gateway/internal/handlers"
)

// Backend is the storage the router reads from directly.
type Backend interface {
	Ping(ctx context.Context) error
	handlers.AuditReader
	handlers.ShopStatusReader
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics, /events (any origin)
// Authenticated: /audit, /audit/stats, /audit/:id, /shops/:domain/status
func NewRouter(cfg config.Config, db Backend, svc handlers.Ingester, logger *zap.Logger) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), instrument(), accessLog(logger.With(zap.String("component", "http"))))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Emitters run on arbitrary storefront domains.
	ingestGroup := r.Group("/", cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
		MaxAge:          12 * time.Hour,
	}))
	ingestGroup.OPTIONS("/events", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	handlers.RegisterEventRoutes(ingestGroup, svc, cfg.MaxBodyBytes)

	// Auth group resolves the operator via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	handlers.RegisterAuditRoutes(authGroup, db)
	handlers.RegisterShopRoutes(authGroup, db)

	return r
}
