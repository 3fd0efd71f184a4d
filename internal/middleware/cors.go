package middleware

import (
	"github.com/gin-gonic/gin"
)

// CORS provides Cross-Origin Resource Sharing support for browser clients
// calling the proxy directly.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		// bearer-token calls; never combine credentials with a wildcard origin
		h.Set("Access-Control-Allow-Credentials", "false")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, x-api-key, x-goog-api-key, anthropic-version, anthropic-beta, x-bt-use-cache, x-bt-cache-ttl, x-bt-org-name, x-bt-endpoint-name, x-bt-use-creds-cache, x-bt-stream-fmt")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		h.Set("Access-Control-Expose-Headers", "x-bt-cached, x-bt-used-endpoint, age, x-request-id")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
