package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// unmatchedRoute labels requests that hit no registered route.
const unmatchedRoute = "unmatched"

// RequestLogger logs one line per request. Paths listed in quiet (health
// probes, scrapes) log at debug level unless they fail.
func RequestLogger(logger zerolog.Logger, quiet ...string) gin.HandlerFunc {
	quietSet := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietSet[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := c.IsWebsocket()
		c.Next()

		status := c.Writer.Status()
		path := routeLabel(c)

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			if _, ok := quietSet[path]; ok {
				event = logger.Debug()
			}
		}

		msg := "http.request"
		if upgrade && status < 400 {
			// Duration covers the whole websocket session.
			msg = "http.upgrade_closed"
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg(msg)
	}
}

// RequestMetricsMiddleware records request counts and latency by route.
// Websocket sessions are counted but not timed.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := c.IsWebsocket()
		c.Next()

		duration := time.Since(start)
		if upgrade {
			duration = 0
		}
		RecordHTTPRequest(node, c.Request.Method, routeLabel(c), c.Writer.Status(), duration)
	}
}

func routeLabel(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return unmatchedRoute
}
