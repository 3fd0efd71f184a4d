package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "aiproxy-go/internal/errors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ttlLimiterCache is a simple TTL map for per-key limiters with opportunistic sweeping.
type ttlLimiterCache struct {
	mu        sync.RWMutex
	items     map[string]*limiterEntry
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newTTLLimiterCache(ttl time.Duration) *ttlLimiterCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ttlLimiterCache{items: make(map[string]*limiterEntry), ttl: ttl, now: time.Now}
}

func (c *ttlLimiterCache) get(key string, makeFn func() *rate.Limiter) *rate.Limiter {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := makeFn()
	c.items[key] = &limiterEntry{lim: lim, lastSeen: now}
	// opportunistic sweep every ~2 minutes
	if c.lastSweep.IsZero() || now.Sub(c.lastSweep) > 2*time.Minute {
		c.sweepLocked(now)
		c.lastSweep = now
	}
	SetRateLimitKeyGauge(len(c.items))
	return lim
}

func (c *ttlLimiterCache) sweepLocked(now time.Time) {
	for k, e := range c.items {
		if now.Sub(e.lastSeen) > c.ttl {
			delete(c.items, k)
		}
	}
}

// RateLimiterAutoKey applies rate limit using the caller token if present
// (Authorization/x-api-key/x-goog-api-key), otherwise falls back to client IP.
// Additionally enforces a lightweight global limiter.
func RateLimiterAutoKey(rps int, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	cache := newTTLLimiterCache(15 * time.Minute)
	global := rate.NewLimiter(rate.Limit(rps*5), burst*5) // 5x per-key defaults
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if !global.Allow() {
			abortRateLimited(c, "Global rate limit exceeded")
			return
		}
		key := extractAPIKey(c)
		if key == "" {
			key = c.ClientIP()
		}
		li := cache.get(key, func() *rate.Limiter { return rate.NewLimiter(rate.Limit(rps), burst) })
		if !li.Allow() {
			abortRateLimited(c, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

func abortRateLimited(c *gin.Context, msg string) {
	apiErr := apperrors.New(http.StatusTooManyRequests, "rate_limited", "rate_limit_error", msg)
	c.Header("Retry-After", "1")
	c.Data(apiErr.StatusCode(), "application/json", apiErr.ToJSON(apperrors.FormatOpenAI))
	c.Abort()
}

func extractAPIKey(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.GetHeader("x-goog-api-key")); v != "" {
		return v
	}
	return ""
}
