package config

import (
	"os"
	"path/filepath"
	"testing"

	"aiproxy-go/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/v1", cfg.Proxy.Prefix)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, constants.RetryWaitBudget, cfg.Retry.WaitBudget())
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  addr: ":9000"
  debug: true
proxy:
  prefix: "api/"
  default_cache_ttl: 999999999
cache:
  backend: REDIS
  redis_addr: "127.0.0.1:6380"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("AIPROXY_REDIS_DB", "3")
	t.Setenv("AIPROXY_DEBUG", "off")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.False(t, cfg.Server.Debug)
	assert.Equal(t, "/api", cfg.Proxy.Prefix)
	assert.Equal(t, constants.MaxCacheTTL, cfg.Proxy.DefaultCacheTTL)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 3, cfg.Cache.RedisDB)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rate_limit":{"enabled":true,"rps":5,"burst":7}}`), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.RPS)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.Backend = "mongo"
	res := cfg.Validate()
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cache.backend", res.Errors[0].Field)
}
