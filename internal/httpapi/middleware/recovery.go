package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/city-searcher/internal/common"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 with the usual error body.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Stack("stack"),
				)
				common.Abort(c, http.StatusInternalServerError, "Unknown error")
			}
		}()
		c.Next()
	}
}
