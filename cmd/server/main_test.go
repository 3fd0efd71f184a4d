package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aiproxy-go/internal/config"
	"aiproxy-go/internal/upstream"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStorageBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.Defaults()
		b, err := buildStorageBackend(ctx, cfg)
		require.NoError(t, err)
		require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.Defaults()
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisAddr = mr.Addr()
		b, err := buildStorageBackend(ctx, cfg)
		require.NoError(t, err)
		defer b.Close()
		require.NoError(t, b.Health(ctx))
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Cache.Backend = "mongo"
		_, err := buildStorageBackend(ctx, cfg)
		assert.Error(t, err)
	})
}

func TestBuildRuntimeFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Defaults()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = addr
	cfg.Secrets.File = filepath.Join(t.TempDir(), "absent.yaml")

	rt, err := buildRuntime(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.NotNil(t, rt.proxy)
	assert.Equal(t, 0, rt.secrets.Len())
}

func TestBuildSecretSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("secrets:\n  - type: openai\n    secret: sk-1\n    tokens: [tok-a]\n"), 0o600))

	src, err := buildSecretSource(context.Background(), config.SecretsConfig{File: path})
	require.NoError(t, err)
	assert.Equal(t, 1, src.Len())

	require.NoError(t, os.WriteFile(path, []byte("secrets: [broken"), 0o600))
	_, err = buildSecretSource(context.Background(), config.SecretsConfig{File: path})
	assert.Error(t, err)
}

func TestRecordAttemptDoesNotPanic(t *testing.T) {
	recordAttempt(upstream.Attempt{Kind: upstream.KindRetryable, Status: 429, Latency: time.Millisecond, Delay: time.Second})
	recordAttempt(upstream.Attempt{Kind: upstream.KindOK, Status: 200})
}
