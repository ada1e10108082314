package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/city-searcher/internal/common"
	"github.com/suPer8Hu/city-searcher/internal/config"
	"github.com/suPer8Hu/city-searcher/internal/httpapi/handlers"
	"github.com/suPer8Hu/city-searcher/internal/httpapi/middleware"
	"github.com/suPer8Hu/city-searcher/internal/logger"
	"go.uber.org/zap"
)

func NewRouter(h *handlers.Handler, cfg config.Config, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(logger.RequestLogging(log))
	r.Use(middleware.Recovery(log))
	r.Use(corsMiddleware(cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.POST("/create-session", h.CreateSession)
	api.POST("/create-message", h.CreateMessage)
	api.GET("/fetch-cities", h.FetchCities)
	api.GET("/fetch-messages", h.FetchMessages)
	api.GET("/list-sessions", h.ListSessions)
	api.GET("/pending-service-responses", h.PendingServiceResponses)
	api.GET("/watch-pending", h.WatchPending)

	// search backend callback (disabled without a secret)
	if cfg.CallbackSecret != "" {
		cb := api.Group("/service-responses")
		cb.Use(middleware.CallbackAuth(cfg.CallbackSecret))
		cb.POST("/resolve", h.ResolveServiceResponse)
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", handlers.IdempotencyHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}
