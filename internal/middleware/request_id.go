package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID is the request ID header read from and echoed to clients.
	HeaderRequestID = "X-Request-ID"

	// ContextKeyRequestID is the gin context key holding the request ID.
	ContextKeyRequestID = "request_id"
)

// RequestID assigns each request an ID, reusing the client-provided header
// when present so IDs correlate across services.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(ContextKeyRequestID, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}
