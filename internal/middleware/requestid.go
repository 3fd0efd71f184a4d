package middleware

import (
	"aiproxy-go/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestID assigns X-Request-ID and stores a correlated log entry on the
// request context for code below the HTTP layer.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		entry := log.WithField("request_id", rid)
		c.Request = c.Request.WithContext(logging.IntoContext(c.Request.Context(), entry))
		c.Next()
	}
}
