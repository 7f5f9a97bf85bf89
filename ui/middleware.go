package ui

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitwit/coffee/logger"
)

// GinLogger logs one line per request.
func GinLogger(l logger.Logger) gin.HandlerFunc {
	l = logger.OrNoop(l)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := map[string]any{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
			l.Warn("HTTP request", fields)
			return
		}
		l.Info("HTTP request", fields)
	}
}
