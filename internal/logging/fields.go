package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type ctxKey struct{}

// WithReq builds a log entry enriched with request_id, method, path and ip.
// Extras take precedence on key conflicts.
func WithReq(c *gin.Context, extras log.Fields) *log.Entry {
	if c == nil || c.Request == nil {
		return log.WithFields(extras)
	}
	path := c.FullPath()
	if path == "" && c.Request.URL != nil {
		path = c.Request.URL.Path
	}
	rid, _ := c.Get("request_id")
	fields := log.Fields{
		"request_id": rid,
		"method":     c.Request.Method,
		"path":       path,
		"ip":         c.ClientIP(),
	}
	for k, v := range extras {
		fields[k] = v
	}
	return log.WithFields(fields)
}

// IntoContext stores a request-scoped entry so code below the HTTP layer can
// log with the same correlation fields.
func IntoContext(ctx context.Context, entry *log.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the entry stored by IntoContext or a bare entry.
func FromContext(ctx context.Context) *log.Entry {
	if ctx != nil {
		if e, ok := ctx.Value(ctxKey{}).(*log.Entry); ok && e != nil {
			return e
		}
	}
	return log.NewEntry(log.StandardLogger())
}

// DurationMS converts a duration to integer milliseconds for logging.
func DurationMS(d time.Duration) int64 { return d.Milliseconds() }
