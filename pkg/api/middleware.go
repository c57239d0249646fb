package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuemby/onboard/pkg/metrics"
)

func routeName(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}

// metricsMiddleware counts requests and records their duration per route
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		route := routeName(c)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		event := s.logger.Debug()
		if c.Writer.Status() >= 500 {
			event = s.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", timer.Duration()).
			Msg("Request handled")
	}
}
