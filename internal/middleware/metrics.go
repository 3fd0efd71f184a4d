package middleware

import (
	"time"

	"aiproxy-go/internal/monitoring"
	"github.com/gin-gonic/gin"
)

// Metrics is an HTTP middleware to track per-route counters and latency histogram
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		c.Next()
		monitoring.HTTPInFlight.Dec()

		durSec := time.Since(start).Seconds()
		// route template keeps the label set bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		sc := monitoring.StatusClass(c.Writer.Status())

		monitoring.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, sc).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, sc).Observe(durSec)
	}
}

// SetRateLimitKeyGauge sets the current per-key limiter count.
func SetRateLimitKeyGauge(n int) {
	monitoring.RateLimitKeysGauge.Set(float64(n))
}
