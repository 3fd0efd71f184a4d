package config

// applyEnv overlays AIPROXY_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	setStringFromEnv("AIPROXY_ADDR", func(v string) { cfg.Server.Addr = v })
	setStringFromEnv("AIPROXY_BASE_PATH", func(v string) { cfg.Server.BasePath = v })
	setToggleFromEnv("AIPROXY_DEBUG", func(v bool) { cfg.Server.Debug = v })
	setStringFromEnv("AIPROXY_LOG_FILE", func(v string) { cfg.Server.LogFile = v })
	setToggleFromEnv("AIPROXY_REQUEST_LOG", func(v bool) { cfg.Server.RequestLog = v })
	setToggleFromEnv("AIPROXY_CORS", func(v bool) { cfg.Server.CORS = v })
	setToggleFromEnv("AIPROXY_PPROF", func(v bool) { cfg.Server.Pprof = v })
	setIntFromEnv("AIPROXY_MAX_BODY_BYTES", func(v int) { cfg.Server.MaxBodyBytes = int64(v) })

	setStringFromEnv("AIPROXY_PREFIX", func(v string) { cfg.Proxy.Prefix = v })
	setIntFromEnv("AIPROXY_DEFAULT_CACHE_TTL", func(v int) { cfg.Proxy.DefaultCacheTTL = v })
	setStringFromEnv("AIPROXY_CACHE_KEY_PREFIX", func(v string) { cfg.Proxy.CacheKeyPrefix = v })
	setToggleFromEnv("AIPROXY_CACHE_EXCLUDE_AUTH", func(v bool) { cfg.Proxy.ExcludeAuthToken = v })
	setToggleFromEnv("AIPROXY_CACHE_EXCLUDE_ORG", func(v bool) { cfg.Proxy.ExcludeOrgName = v })
	setIntFromEnv("AIPROXY_MAX_CACHED_RESPONSE_BYTES", func(v int) { cfg.Proxy.MaxCachedResponseBytes = v })
	setToggleFromEnv("AIPROXY_TEMP_CREDENTIALS", func(v bool) { cfg.Proxy.TempCredentials = v })
	setStringFromEnv("AIPROXY_TEMP_CREDENTIAL_SECRET", func(v string) { cfg.Proxy.TempCredentialSecret = v })

	setStringFromEnv("AIPROXY_CACHE_BACKEND", func(v string) { cfg.Cache.Backend = v })
	setStringFromEnv("AIPROXY_REDIS_ADDR", func(v string) { cfg.Cache.RedisAddr = v })
	setStringFromEnv("AIPROXY_REDIS_PASSWORD", func(v string) { cfg.Cache.RedisPassword = v })
	setIntFromEnv("AIPROXY_REDIS_DB", func(v int) { cfg.Cache.RedisDB = v })
	setStringFromEnv("AIPROXY_REDIS_PREFIX", func(v string) { cfg.Cache.RedisPrefix = v })

	setStringFromEnv("AIPROXY_SECRETS_FILE", func(v string) { cfg.Secrets.File = v })
	setToggleFromEnv("AIPROXY_SECRETS_WATCH", func(v bool) { cfg.Secrets.Watch = v })
	setIntFromEnv("AIPROXY_SECRETS_CACHE_SECONDS", func(v int) { cfg.Secrets.CacheSeconds = v })

	setIntFromEnv("AIPROXY_RETRY_WAIT_BUDGET_MS", func(v int) { cfg.Retry.WaitBudgetMS = v })
	setIntFromEnv("AIPROXY_RETRY_MAX_BACKOFF_MS", func(v int) { cfg.Retry.MaxBackoffMS = v })
	setIntFromEnv("AIPROXY_RETRY_BASE_BACKOFF_MS", func(v int) { cfg.Retry.BaseBackoffMS = v })

	setToggleFromEnv("AIPROXY_RATE_LIMIT_ENABLED", func(v bool) { cfg.RateLimit.Enabled = v })
	setIntFromEnv("AIPROXY_RATE_LIMIT_RPS", func(v int) { cfg.RateLimit.RPS = v })
	setIntFromEnv("AIPROXY_RATE_LIMIT_BURST", func(v int) { cfg.RateLimit.Burst = v })

	setIntFromEnv("AIPROXY_DIAL_TIMEOUT_SEC", func(v int) { cfg.Transport.DialTimeoutSec = v })
	setIntFromEnv("AIPROXY_TLS_HANDSHAKE_TIMEOUT_SEC", func(v int) { cfg.Transport.TLSHandshakeTimeoutSec = v })
	setIntFromEnv("AIPROXY_RESPONSE_HEADER_TIMEOUT_SEC", func(v int) { cfg.Transport.ResponseHeaderTimeoutSec = v })
	setStringFromEnv("AIPROXY_UPSTREAM_PROXY", func(v string) { cfg.Transport.ProxyURL = v })
}
