package handler

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agora-server/internal/middleware"
	"agora-server/internal/service"
)

// RouterConfig carries what the HTTP surface needs.
type RouterConfig struct {
	Gateway        *service.Gateway
	Auth           *service.AuthService
	AllowedOrigins []string
	WebSocket      WebSocketConfig
}

// NewRouter builds the gin engine: /ws, /health and the admin-guarded ops
// endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Protocol"},
		AllowCredentials: true,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.Use(cors.New(corsConfig))

	wsHandler := NewWebSocketHandler(cfg.Gateway, cfg.WebSocket)
	healthHandler := NewHealthHandler(cfg.Gateway)

	r.GET("/health", healthHandler.Health)
	r.GET("/ws", wsHandler.HandleWebSocket)

	ops := r.Group("/", middleware.AdminAuth(cfg.Auth))
	ops.GET("/metrics", healthHandler.Metrics)
	ops.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))
	ops.GET("/logs/errors", healthHandler.ErrorLogs)

	return r
}
