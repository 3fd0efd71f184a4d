package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"aiproxy-go/internal/config"
	"aiproxy-go/internal/constants"
	"aiproxy-go/internal/logging"
	"aiproxy-go/internal/monitoring"
	"aiproxy-go/internal/monitoring/tracing"
	srv "aiproxy-go/internal/server"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *debug {
		cfg.Server.Debug = true
	}
	if err := logging.Setup(cfg.Server); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	defer func() {
		if err := traceShutdown(context.Background()); err != nil {
			log.WithError(err).Warn("failed to shutdown tracing")
		}
	}()
	log.Infof("Starting aiproxy-go %s (config: %s)", constants.Version, *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to assemble proxy")
	}
	defer func() { _ = rt.storage.Close() }()
	monitoring.ExposeLoadedSecrets(rt.secrets.Len)

	engine := srv.BuildEngine(cfg, srv.Dependencies{Proxy: rt.proxy, Storage: rt.storage})
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		IdleTimeout:       constants.DefaultIdleTimeout,
	}

	go func() {
		log.Infof("AI proxy listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("Shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancelShutdown()
	// 等待进行中的流式响应结束
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	log.Info("Server stopped")
}
