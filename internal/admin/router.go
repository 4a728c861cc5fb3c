package admin

import (
	"os"

	"github.com/gin-gonic/gin"

	"chatcore/config"
	"chatcore/internal/registry"
	"chatcore/internal/service"
	"chatcore/pkg/jwt"
	"chatcore/pkg/logger"
	"chatcore/pkg/password"
)

// NewRouter builds the gin engine backing the admin HTTP surface,
// grounded on the teacher's cmd/server/main.go router assembly.
func NewRouter(cfg *config.Config, jwtSvc *jwt.JWTService, hasher *password.Hasher, chat *service.ChatService, reg *registry.Registry) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(logger.LoggerMiddleware())
	router.Use(logger.ErrorLoggerMiddleware())

	h := NewHandlers(cfg, jwtSvc, hasher, chat, reg)

	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)
	router.GET("/config", h.Config)

	admin := router.Group("/admin")
	{
		admin.POST("/login", h.Login)

		authed := admin.Group("")
		authed.Use(jwtSvc.AuthMiddleware())
		{
			authed.GET("/online", h.Online)
			authed.GET("/rooms/:room/history", h.RoomHistory)
		}
	}

	return router
}
