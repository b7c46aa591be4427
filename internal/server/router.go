package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/studyforge-backend/internal/http/handlers"
	"github.com/yungbote/studyforge-backend/internal/http/middleware"
	"github.com/yungbote/studyforge-backend/internal/platform/envutil"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log               *logger.Logger
	AuthMiddleware    *middleware.AuthMiddleware
	GenerationHandler *handlers.GenerationHandler
	EventsHandler     *handlers.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog(cfg.Log))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/generations", cfg.GenerationHandler.Submit)
		api.GET("/generations", cfg.GenerationHandler.List)
		api.GET("/generations/:id", cfg.GenerationHandler.Get)
		api.POST("/generations/:id/cancel", cfg.GenerationHandler.Cancel)
		api.GET("/generations/:id/concepts", cfg.GenerationHandler.Concepts)
		api.GET("/generations/:id/events", cfg.EventsHandler.Stream)
		api.GET("/concepts/:id/phrasings", cfg.GenerationHandler.ConceptPhrasings)
	}

	return router
}

func allowedOrigins() []string {
	raw := envutil.String("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
