package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elementstore/core/internal/security"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.WithField("method", c.Request.Method).
			WithField("path", c.FullPath()).
			WithField("status", c.Writer.Status()).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("request handled")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.Metrics == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.Metrics.HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// securityContext reads the (user_id, app_id, domain) triple off the
// request headers and stamps it onto the request context (spec §4.2
// security context).
func (s *Server) securityContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		sec := security.Context{
			UserID:         c.GetHeader(security.HeaderUserID),
			AppID:          c.GetHeader(security.HeaderAppID),
			Domain:         c.GetHeader(security.HeaderDomain),
			Admin:          c.GetHeader(security.HeaderDisableOwnership) == "true",
			AllowCustomIDs: c.GetHeader(security.HeaderAllowCustomIds) == "true",
		}
		ctx := security.WithContext(c.Request.Context(), sec)
		c.Request = c.Request.WithContext(ctx)
		c.Set("security", sec)
		c.Next()
	}
}

func securityFromGin(c *gin.Context) security.Context {
	if v, ok := c.Get("security"); ok {
		if sec, ok := v.(security.Context); ok {
			return sec
		}
	}
	return security.Context{}
}
