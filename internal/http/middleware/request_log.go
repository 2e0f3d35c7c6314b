package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

// RequestLogger writes one line per request at a level chosen by status.
// Run it after AttachTraceContext so lines carry trace_id/request_id.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"route", routeOf(c),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, "query", q)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("HTTP request", fields...)
		case status >= 400:
			l.Warn("HTTP request", fields...)
		default:
			l.Debug("HTTP request", fields...)
		}
	}
}

// routeOf prefers the registered pattern so ids do not explode cardinality.
func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}
