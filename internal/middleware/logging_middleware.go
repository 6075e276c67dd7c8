// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"comlink-service/internal/utils"
)

// LoggingMiddleware logs every request except WebSocket upgrades, which
// would only be logged once the stream closes
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}

		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		logger.LogAPIRequest(
			c.Request.Method,
			c.FullPath(),
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			duration,
		)
	}
}
