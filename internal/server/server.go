package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"

	"github.com/artdiffusion/a1111-bot/internal/logger"
	"github.com/artdiffusion/a1111-bot/internal/server/handler"
)

func Start(host, port, apiKey string, h *handler.Handler) {
	router := InnitRouter(apiKey, h)
	if err := router.Run(host + ":" + port); err != nil {
		panic(err)
	}
}

func PermissionCheckMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestKey := c.GetHeader("API-KEY")
		if requestKey != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid API key",
			})
			return
		}
		c.Next()
	}
}

func InnitRouter(apiKey string, h *handler.Handler) *gin.Engine {
	router := gin.New()
	router.Use(ginzap.RecoveryWithZap(logger.ZapLogger, true))
	router.Use(ginzap.Ginzap(logger.ZapLogger, time.RFC3339Nano, true))
	router.Use(cors.Default())
	pprof.Register(router)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("", PermissionCheckMiddleware(apiKey))
	apiGroup.POST("/generate", h.CreateGenerationTask)
	apiGroup.POST("/action", h.ExecuteAction)
	apiGroup.GET("/queue", h.QueueStatus)

	apiGroup.GET("/settings/:userID", h.GetSettings)
	apiGroup.POST("/settings/:userID/autoconfig", h.AutoConfigSettings)
	apiGroup.GET("/backend", h.BackendCatalog)
	return router
}
