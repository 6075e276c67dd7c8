// internal/middleware/recovery_middleware.go
package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comlink-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope. The panic is
// logged under the request ID returned to the client in X-Request-ID.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		requestID := c.GetString("request_id")
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		utils.LoggerWithRequestID(logger, requestID).Error("Handler panic recovered",
			zap.Any("panic", recovered),
			zap.String("route", route),
			zap.String("method", c.Request.Method),
			zap.String("client_ip", c.ClientIP()),
			zap.Stack("stacktrace"),
		)

		var err error
		if requestID != "" {
			err = fmt.Errorf("%s %s aborted, see request %s", c.Request.Method, route, requestID)
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", err)
	})
}
