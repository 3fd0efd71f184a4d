package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"aiproxy-go/internal/constants"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/models"
	"aiproxy-go/internal/proxy"
	"aiproxy-go/internal/storage"
	"github.com/gin-gonic/gin"
)

var notFoundBody = apperrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "route not found").ToJSON(apperrors.FormatOpenAI)

// proxyHandler hands the call to the orchestrator with the logical path
// relative to mount. The gin writer is the output sink.
func proxyHandler(p *proxy.Proxy, mount string, maxBody int64) gin.HandlerFunc {
	if maxBody <= 0 {
		maxBody = constants.MaxRequestBodyBytes
	}
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, mount)
		if c.Request.Method == http.MethodGet && strings.Trim(path, "/") == "models" {
			listModels(c)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apiErr := apperrors.New(http.StatusRequestEntityTooLarge, "request_too_large", "invalid_request_error", "request body too large")
				c.Data(apiErr.StatusCode(), "application/json", apiErr.ToJSON(apperrors.FormatOpenAI))
				return
			}
			_ = c.Error(err)
			apiErr := apperrors.BadRequest("failed to read request body")
			c.Data(apiErr.StatusCode(), "application/json", apiErr.ToJSON(apperrors.FormatOpenAI))
			return
		}
		p.Serve(c.Request.Context(), c.Request.Method, path, c.Request.Header, body, c.Writer)
	}
}

func listModels(c *gin.Context) {
	names := models.Names()
	data := make([]gin.H, 0, len(names))
	for _, name := range names {
		spec, _ := models.Lookup(name)
		data = append(data, gin.H{
			"id":       name,
			"object":   "model",
			"owned_by": string(spec.Format),
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func healthHandler(st storage.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{"status": "ok", "version": constants.Version}
		if st != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := st.Health(ctx); err != nil {
				resp["status"] = "degraded"
				resp["storage"] = err.Error()
				c.JSON(http.StatusServiceUnavailable, resp)
				return
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
