package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"social_client/pkg/logger"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		statusCode := c.Writer.Status()
		args := []any{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", statusCode,
			"latency", time.Since(start),
		}
		if statusCode >= 500 {
			log.Warn("HTTP request", args...)
			return
		}
		log.Debug("HTTP request", args...)
	}
}
