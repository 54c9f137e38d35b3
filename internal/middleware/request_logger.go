package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"fundarb/internal/logger"
)

// RequestLogger logs each request with latency and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"ip", c.ClientIP(),
			"request_id", GetRequestID(c),
		}
		if query != "" {
			fields = append(fields, "query", query)
		}

		if c.Writer.Status() >= 500 {
			logger.Error("HTTP request", fields...)
		} else if c.Writer.Status() >= 400 {
			logger.Warn("HTTP request", fields...)
		} else {
			logger.Info("HTTP request", fields...)
		}
	}
}
