package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"smc-engine/internal/logging"
)

const traceHeader = "X-Trace-ID"

// requestLogger tags each request with a trace ID and logs it on completion.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, _ := logging.WithTraceContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		traceID := logging.TraceIDFromContext(ctx)
		c.Header(traceHeader, traceID)

		c.Next()

		logger := logging.APIContext(c.Request.Method, c.FullPath(), c.Writer.Status()).
			WithTraceID(traceID).
			WithDuration(time.Since(start))
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("Request failed", "errors", c.Errors.String())
		case c.Writer.Status() >= 400:
			logger.Warn("Request rejected")
		default:
			logger.Debug("Request served")
		}
	}
}
