package constants

import "time"

// HTTP Client 连接池配置
const (
	MaxIdleConns        = 1024
	MaxIdleConnsPerHost = 256
	MaxConnsPerHost     = 512
	IdleConnTimeout     = 90 * time.Second
	DefaultKeepAlive    = 30 * time.Second

	DefaultWriteBufferSize = 64 * 1024
	DefaultReadBufferSize  = 64 * 1024
)

// HTTP 超时配置
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 120 * time.Second
	DefaultExpectContinueTimeout = 2 * time.Second
	TokenExchangeTimeout         = 30 * time.Second
)

// 服务端
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	ShutdownTimeout          = 15 * time.Second
	MaxRequestBodyBytes      = 32 << 20
)
