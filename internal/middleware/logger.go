package middleware

import (
	"time"

	"aiproxy-go/internal/logging"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs HTTP requests
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		h := c.Writer.Header()
		extras := log.Fields{
			"status":     status,
			"latency_ms": logging.DurationMS(latency),
			"user_agent": c.Request.UserAgent(),
			"error_kind": logging.ErrorKind(status, len(c.Errors) > 0),
		}
		if v := h.Get("x-bt-cached"); v != "" {
			extras["cached"] = v
		}
		if v := h.Get("x-bt-used-endpoint"); v != "" {
			extras["endpoint"] = v
		}
		entry := logging.WithReq(c, extras)
		if status >= 500 {
			entry.Warn("http_request")
			return
		}
		entry.Info("http_request")
	}
}
