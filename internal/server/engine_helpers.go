package server

import (
	pp "net/http/pprof"

	"aiproxy-go/internal/config"
	mw "aiproxy-go/internal/middleware"
	"github.com/gin-gonic/gin"
)

// applyStandardEngineSettings applies common Gin settings and middlewares.
func applyStandardEngineSettings(engine *gin.Engine, cfg *config.Config) {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	_ = engine.SetTrustedProxies([]string{})

	engine.Use(mw.Recovery(), mw.RequestID(), mw.Metrics())
	if cfg.Server.CORS {
		engine.Use(mw.CORS())
	}
	if cfg.Server.RequestLog {
		engine.Use(mw.RequestLogger())
	}
	if cfg.RateLimit.Enabled {
		engine.Use(mw.RateLimiterAutoKey(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
}

func registerPprof(r *gin.Engine) {
	ppGroup := r.Group("/debug/pprof")
	ppGroup.GET("/", gin.WrapF(pp.Index))
	ppGroup.GET("/cmdline", gin.WrapF(pp.Cmdline))
	ppGroup.GET("/profile", gin.WrapF(pp.Profile))
	ppGroup.POST("/symbol", gin.WrapF(pp.Symbol))
	ppGroup.GET("/symbol", gin.WrapF(pp.Symbol))
	ppGroup.GET("/trace", gin.WrapF(pp.Trace))
	ppGroup.GET("/allocs", gin.WrapF(pp.Handler("allocs").ServeHTTP))
	ppGroup.GET("/goroutine", gin.WrapF(pp.Handler("goroutine").ServeHTTP))
	ppGroup.GET("/heap", gin.WrapF(pp.Handler("heap").ServeHTTP))
}
