package security

import (
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs one line per request. The route template is logged
// instead of the raw path so store keys and item IDs stay out of the log.
// Server errors log at warn level. Requests to quietPaths are not logged.
func AccessLogMiddleware(quietPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if slices.Contains(quietPaths, c.Request.URL.Path) {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		logf := log.Info
		if c.Writer.Status() >= 500 {
			logf = log.Warn
		}
		logf("HTTP request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"user", GetUserID(c),
			"client", GetClientID(c),
		)
	}
}
