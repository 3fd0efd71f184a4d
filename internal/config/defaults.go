package config

import (
	"aiproxy-go/internal/constants"
)

// Defaults returns a configuration populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       ":8000",
			RequestLog: true,
			CORS:       true,
		},
		Proxy: ProxyConfig{
			Prefix:                 "/v1",
			DefaultCacheTTL:        constants.DefaultCacheTTL,
			CacheKeyPrefix:         constants.CacheKeyPrefix,
			MaxCachedResponseBytes: constants.MaxCachedResponse,
			TempCredentials:        true,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "aiproxy:",
		},
		Secrets: SecretsConfig{
			File:         "secrets.yaml",
			Watch:        true,
			CacheSeconds: int(constants.SecretsCacheTTL.Seconds()),
		},
		Retry: RetryConfig{
			WaitBudgetMS:  int(constants.RetryWaitBudget.Milliseconds()),
			MaxBackoffMS:  int(constants.RetryMaxBackoff.Milliseconds()),
			BaseBackoffMS: int(constants.RetryBaseBackoff.Milliseconds()),
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     10,
			Burst:   20,
		},
		Transport: TransportConfig{
			DialTimeoutSec:           int(constants.DefaultDialTimeout.Seconds()),
			ResponseHeaderTimeoutSec: int(constants.DefaultResponseHeaderTimeout.Seconds()),
		},
	}
}
