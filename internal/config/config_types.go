package config

import "time"

// Config is the runtime configuration of the gateway, grouped by domain.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Secrets   SecretsConfig   `yaml:"secrets" json:"secrets"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
}

// ServerConfig 服务器监听与日志配置
type ServerConfig struct {
	Addr       string `yaml:"addr" json:"addr"`
	BasePath   string `yaml:"base_path" json:"base_path"`
	Debug      bool   `yaml:"debug" json:"debug"`
	LogFile    string `yaml:"log_file" json:"log_file"`
	RequestLog bool   `yaml:"request_log" json:"request_log"`
	CORS       bool   `yaml:"cors" json:"cors"`
	Pprof      bool   `yaml:"pprof" json:"pprof"`
	// MaxBodyBytes caps inbound request bodies; 0 uses the built-in limit.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// ProxyConfig 代理路由与响应缓存策略
type ProxyConfig struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	// DefaultCacheTTL is used when the caller names no TTL, in seconds.
	DefaultCacheTTL int `yaml:"default_cache_ttl" json:"default_cache_ttl"`
	CacheKeyPrefix  string `yaml:"cache_key_prefix" json:"cache_key_prefix"`
	// ExcludeAuthToken drops the caller token from the cache fingerprint so
	// identical requests from different callers share an entry.
	ExcludeAuthToken       bool `yaml:"exclude_auth_token" json:"exclude_auth_token"`
	ExcludeOrgName         bool `yaml:"exclude_org_name" json:"exclude_org_name"`
	MaxCachedResponseBytes int  `yaml:"max_cached_response_bytes" json:"max_cached_response_bytes"`
	TempCredentials        bool `yaml:"temp_credentials" json:"temp_credentials"`
	// TempCredentialSecret keys the stored temporary credential records.
	// Replicas sharing a cache must share it; empty means a per-process key.
	TempCredentialSecret string `yaml:"temp_credential_secret" json:"temp_credential_secret"`
}

// CacheConfig 缓存后端配置
type CacheConfig struct {
	Backend       string `yaml:"backend" json:"backend"` // memory, redis
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`
}

// SecretsConfig 上游凭证来源
type SecretsConfig struct {
	File  string `yaml:"file" json:"file"`
	Watch bool   `yaml:"watch" json:"watch"`
	// CacheSeconds bounds how long a lookup result is reused per caller.
	CacheSeconds int `yaml:"cache_seconds" json:"cache_seconds"`
}

// RetryConfig 凭证轮换退避参数（毫秒）
type RetryConfig struct {
	WaitBudgetMS  int `yaml:"wait_budget_ms" json:"wait_budget_ms"`
	MaxBackoffMS  int `yaml:"max_backoff_ms" json:"max_backoff_ms"`
	BaseBackoffMS int `yaml:"base_backoff_ms" json:"base_backoff_ms"`
}

// RateLimitConfig 入站限流
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	RPS     int  `yaml:"rps" json:"rps"`
	Burst   int  `yaml:"burst" json:"burst"`
}

// TransportConfig 上游 HTTP 客户端
type TransportConfig struct {
	DialTimeoutSec           int `yaml:"dial_timeout_sec" json:"dial_timeout_sec"`
	TLSHandshakeTimeoutSec   int `yaml:"tls_handshake_timeout_sec" json:"tls_handshake_timeout_sec"`
	ResponseHeaderTimeoutSec int `yaml:"response_header_timeout_sec" json:"response_header_timeout_sec"`
	// ProxyURL routes upstream traffic through an HTTP proxy; empty falls
	// back to the environment.
	ProxyURL string `yaml:"proxy_url" json:"proxy_url"`
}

// WaitBudget returns the retry wait budget as a duration.
func (r RetryConfig) WaitBudget() time.Duration {
	return time.Duration(r.WaitBudgetMS) * time.Millisecond
}

// MaxBackoff returns the per-sleep backoff cap as a duration.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMS) * time.Millisecond
}

// BaseBackoff returns the first-attempt backoff as a duration.
func (r RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(r.BaseBackoffMS) * time.Millisecond
}
