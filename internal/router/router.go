package router

import (
	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/config"
	"github.com/kestrelhq/chatgate/internal/handler"
	"github.com/kestrelhq/chatgate/internal/middleware"
)

// Handlers bundles everything the router mounts
type Handlers struct {
	Auth     *handler.AuthHandler
	User     *handler.UserHandler
	Settings *handler.SettingsHandler
	Chat     *handler.ChatHandler
	Ollama   *handler.OllamaHandler
	Health   *handler.HealthHandler

	AuthMW  *middleware.AuthMiddleware
	Limiter *middleware.RateLimiter
}

// Setup builds the gin engine with the full middleware chain and all routes
func Setup(cfg *config.Config, h *Handlers) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestContext(),
		middleware.RequestLogger(),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	engine.GET("/health", h.Health.Live)
	engine.GET("/health/ready", h.Health.Ready)

	// The limiter mounts after authentication on guarded routes so its
	// window keys by user id; public routes key by client IP.
	limit := func(c *gin.Context) { c.Next() }
	if h.Limiter != nil {
		limit = h.Limiter.Limit()
	}

	api := engine.Group("/api")
	registerAuthRoutes(api, h, limit)
	registerUserRoutes(api, h, limit)
	registerChatRoutes(api, h, limit)
	registerOllamaRoutes(api, h, limit)

	return engine
}
