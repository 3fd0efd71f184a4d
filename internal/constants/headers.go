package constants

// 请求头（调用方控制）
const (
	HeaderUseCache      = "x-bt-use-cache"
	HeaderCacheTTL      = "x-bt-cache-ttl"
	HeaderUseCredsCache = "x-bt-use-creds-cache"
	HeaderOrgName       = "x-bt-org-name"
	HeaderProjectID     = "x-bt-project-id"
	HeaderEndpointName  = "x-bt-endpoint-name"
	HeaderStreamFormat  = "x-bt-stream-fmt"
)

// 响应头（网关产生）
const (
	HeaderCached       = "x-bt-cached"
	HeaderUsedEndpoint = "x-bt-used-endpoint"
	HeaderRequestID    = "X-Request-ID"
)

const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// StreamFormatVercelAI selects the Vercel AI data-stream framing for responses.
const StreamFormatVercelAI = "vercel-ai"
