package router

import (
	"context"
	"net/http"

	"instacares-notify/internal/common"
	"instacares-notify/internal/config"
	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/middleware"
	"instacares-notify/internal/webhook"

	"github.com/gin-gonic/gin"
)

// New creates and configures the Gin router with all middleware and routes.
// Background middleware work stops when ctx is cancelled.
func New(
	ctx context.Context,
	cfg *config.Config,
	notificationHandler *notification.Handler,
	webhookHandler *webhook.Handler,
) *gin.Engine {
	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	// Per-IP rate limiter
	rateLimiter := middleware.NewRateLimiter(
		ctx,
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.Burst,
	)
	r.Use(rateLimiter.Middleware())

	// Public routes
	r.GET("/health", healthCheck)

	// Provider callbacks authenticate by signature, not API key
	publicAPI := r.Group("/api/v1")
	webhookHandler.RegisterRoutes(publicAPI)

	// Protected API routes (API key required)
	protectedAPI := r.Group("/api/v1")
	protectedAPI.Use(middleware.Auth(cfg.Auth.APIKeys))
	{
		notificationHandler.RegisterRoutes(protectedAPI)
	}

	return r
}

// healthCheck handles GET /health
func healthCheck(c *gin.Context) {
	common.Success(c, http.StatusOK, gin.H{
		"status":  "ok",
		"service": "instacares-notify",
	})
}
