package upstream

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"aiproxy-go/internal/config"
	"aiproxy-go/internal/constants"
)

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

// NewHTTPClient builds the pooled client shared by every adapter. There is
// no overall timeout: streamed responses may run for minutes.
func NewHTTPClient(cfg config.TransportConfig) *http.Client {
	tr := &http.Transport{
		Proxy: proxyFunc(cfg.ProxyURL),
		DialContext: (&net.Dialer{
			Timeout:   durationOrDefault(cfg.DialTimeoutSec, constants.DefaultDialTimeout),
			KeepAlive: constants.DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   durationOrDefault(cfg.TLSHandshakeTimeoutSec, constants.DefaultTLSHandshakeTimeout),
		ResponseHeaderTimeout: durationOrDefault(cfg.ResponseHeaderTimeoutSec, constants.DefaultResponseHeaderTimeout),
		ExpectContinueTimeout: constants.DefaultExpectContinueTimeout,
		MaxIdleConns:          constants.MaxIdleConns,
		MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
		MaxConnsPerHost:       constants.MaxConnsPerHost,
		IdleConnTimeout:       constants.IdleConnTimeout,
		WriteBufferSize:       constants.DefaultWriteBufferSize,
		ReadBufferSize:        constants.DefaultReadBufferSize,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}
}

func proxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}
