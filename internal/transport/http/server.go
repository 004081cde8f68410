package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/webtalk-server/internal/attachment"
	"github.com/vovakirdan/webtalk-server/internal/auth"
	"github.com/vovakirdan/webtalk-server/internal/config"
	"github.com/vovakirdan/webtalk-server/internal/core"
)

// wsReadLimit caps a single inbound WebSocket frame.
const wsReadLimit = 64 << 10

// NewServer builds the HTTP server with the public, upload, admin and
// WebSocket routes.
func NewServer(hub *core.Hub, registry *core.Registry, pipeline *attachment.Pipeline, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, registry, pipeline, authService, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine behind NewServer.
func NewRouter(hub *core.Hub, registry *core.Registry, pipeline *attachment.Pipeline, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg.RateLimitPerMinute, wsReadLimit, logger)))
	router.Static("/uploads", cfg.UploadDir)

	rooms := NewRoomHandlers(registry, logger)
	uploads := NewUploadHandlers(pipeline, cfg.MaxUploadBytes, logger)
	admin := NewAdminHandlers(authService, registry, hub, logger)

	api := router.Group("/api")
	{
		api.GET("/rooms", rooms.ListRooms)
		api.POST("/rooms", rooms.CreateRoom)
		api.POST("/rooms/:id/join", rooms.JoinRoom)
		api.POST("/rooms/:id/upload", uploads.Upload)

		api.POST("/admin/login", admin.Login)

		protected := api.Group("/admin")
		protected.Use(AdminAuthMiddleware(authService, logger))
		{
			protected.GET("/stats", admin.Stats)
			protected.DELETE("/rooms/:id", admin.DeleteRoom)
			protected.POST("/cleanup", admin.Cleanup)
			protected.POST("/settings", admin.UpdateSettings)
		}
	}

	return router
}
