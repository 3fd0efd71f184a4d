package server

import (
	"net/http"
	"strings"

	"aiproxy-go/internal/config"
	"aiproxy-go/internal/constants"
	"aiproxy-go/internal/proxy"
	"aiproxy-go/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Dependencies encapsulates runtime services required to build the HTTP engine.
type Dependencies struct {
	Proxy   *proxy.Proxy
	Storage storage.Backend
}

// BuildEngine constructs the gin engine: health and metrics under the base
// path, every other call under the proxy prefix handed to the orchestrator.
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	engine := gin.New()
	applyStandardEngineSettings(engine, cfg)

	basePath := cfg.Server.BasePath
	root := engine.Group(basePath)
	root.GET("/healthz", healthHandler(deps.Storage))
	root.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Server.Pprof {
		registerPprof(engine)
	}

	mount := basePath + cfg.Proxy.Prefix
	h := proxyHandler(deps.Proxy, mount, cfg.Server.MaxBodyBytes)
	if cfg.Proxy.Prefix == "" {
		// a catch-all at the base path would shadow /healthz
		engine.NoRoute(func(c *gin.Context) {
			if basePath != "" && !strings.HasPrefix(c.Request.URL.Path, basePath+"/") {
				c.Data(http.StatusNotFound, "application/json", notFoundBody)
				return
			}
			h(c)
		})
	} else {
		root.Any(cfg.Proxy.Prefix+"/*path", h)
	}

	log.WithFields(log.Fields{
		"base_path": basePath,
		"prefix":    cfg.Proxy.Prefix,
		"version":   constants.Version,
	}).Info("http routes registered")
	return engine
}
