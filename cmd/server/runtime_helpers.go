package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"aiproxy-go/internal/cache"
	"aiproxy-go/internal/config"
	"aiproxy-go/internal/credential"
	"aiproxy-go/internal/monitoring"
	"aiproxy-go/internal/monitoring/tracing"
	"aiproxy-go/internal/providers"
	"aiproxy-go/internal/proxy"
	store "aiproxy-go/internal/storage"
	"aiproxy-go/internal/upstream"
	log "github.com/sirupsen/logrus"
)

type appRuntime struct {
	storage store.Backend
	secrets *credential.FileSource
	proxy   *proxy.Proxy
}

// buildRuntime wires storage, secrets, adapters and the failover engine
// into the orchestrator.
func buildRuntime(ctx context.Context, cfg *config.Config) (*appRuntime, error) {
	backend, err := buildStorageBackend(ctx, cfg)
	if err != nil {
		// 存储后端初始化失败时降级为内存后端，避免服务无法启动
		log.WithError(err).WithField("backend", cfg.Cache.Backend).Warn("cache backend unavailable; falling back to memory")
		cfg.Cache.Backend = "memory"
		backend = store.NewMemoryBackend()
	}
	backend = monitoring.Instrument(backend, cfg.Cache.Backend, 0)
	encrypted := cache.NewEncrypted(backend)

	files, err := buildSecretSource(ctx, cfg.Secrets)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	var secrets credential.Source = files
	if cfg.Secrets.CacheSeconds > 0 {
		secrets = credential.NewCachedSource(files, encrypted, time.Duration(cfg.Secrets.CacheSeconds)*time.Second)
	}

	client := upstream.NewHTTPClient(cfg.Transport)
	engine := upstream.NewEngine(cfg.Retry)
	engine.OnAttempt = recordAttempt

	p := proxy.New(proxy.Deps{
		Secrets:   secrets,
		Cache:     encrypted,
		Registry:  providers.NewRegistry(providers.NewTokenCache(encrypted, nil)),
		Engine:    engine,
		Client:    client,
		StartSpan: startSpan,
		Histogram: monitoring.LogHistogram,
	}, proxy.OptionsFromConfig(cfg.Proxy))
	return &appRuntime{storage: backend, secrets: files, proxy: p}, nil
}

func buildStorageBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return store.NewMemoryBackend(), nil
	case "redis":
		rb := store.NewRedisBackend(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.RedisPrefix)
		initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rb.Initialize(initCtx); err != nil {
			_ = rb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Cache.RedisAddr, err)
		}
		return rb, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

// buildSecretSource loads the secrets file. A missing file starts an empty
// source so the process can come up before secrets are provisioned.
func buildSecretSource(ctx context.Context, cfg config.SecretsConfig) (*credential.FileSource, error) {
	if cfg.File == "" {
		log.Warn("no secrets file configured; every proxied call will fail with no_credentials")
		return credential.NewStaticSource(nil), nil
	}
	fs, err := credential.NewFileSource(cfg.File)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("path", cfg.File).Warn("secrets file not found; starting with no secrets")
			return credential.NewStaticSource(nil), nil
		}
		return nil, err
	}
	if cfg.Watch {
		fs.Watch(ctx)
	}
	return fs, nil
}

func recordAttempt(a upstream.Attempt) {
	monitoring.RecordAttempt(a.Kind.String(), a.Status, a.Latency, a.Delay)
	entry := log.WithFields(log.Fields{
		"call":       a.CallID,
		"attempt":    a.Index,
		"round":      a.Round,
		"secret":     a.Secret,
		"status":     a.Status,
		"kind":       a.Kind.String(),
		"latency_ms": a.Latency.Milliseconds(),
	})
	if a.Delay > 0 {
		entry = entry.WithField("wait_ms", a.Delay.Milliseconds())
	}
	if a.Err != nil {
		entry = entry.WithError(a.Err)
	}
	entry.Debug("upstream attempt")
}

func startSpan(ctx context.Context, name string) (context.Context, proxy.SpanLogger) {
	return tracing.StartSpanLogger(ctx, name)
}
