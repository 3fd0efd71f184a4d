package constants

import "time"

// 响应缓存
const (
	// MaxCacheTTL is the upper bound for any cached response, in seconds (7 days).
	MaxCacheTTL = 604800
	// MinCacheTTL is the lower bound for any cached response, in seconds.
	MinCacheTTL = 1
	// DefaultCacheTTL applies when neither the caller nor Cache-Control names one.
	DefaultCacheTTL = MaxCacheTTL

	CacheKeyPrefix       = "aiproxy/v1/"
	CacheEntryVersion    = 1
	MaxCachedResponse    = 32 << 20
	SecretsCacheTTL      = 60 * time.Second
	TokenCacheSafetySkew = 60 * time.Second
)

// 临时凭证
const (
	TempCredentialDefaultTTL = 600
	TempCredentialMaxTTL     = 86400
	TempCredentialIssuer     = "aiproxy"
	TempCredentialKeyPrefix  = "aiproxy/tmpcred/"
)
