package upstream

import (
	"net/http"
	"testing"
	"time"

	"aiproxy-go/internal/config"
	"aiproxy-go/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		client := NewHTTPClient(config.TransportConfig{})
		tr, ok := client.Transport.(*http.Transport)
		require.True(t, ok)
		assert.Equal(t, time.Duration(0), client.Timeout)
		assert.Equal(t, constants.DefaultResponseHeaderTimeout, tr.ResponseHeaderTimeout)
		assert.Equal(t, constants.DefaultTLSHandshakeTimeout, tr.TLSHandshakeTimeout)
		assert.Equal(t, constants.MaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	})

	t.Run("overrides and proxy", func(t *testing.T) {
		client := NewHTTPClient(config.TransportConfig{
			ResponseHeaderTimeoutSec: 15,
			TLSHandshakeTimeoutSec:   3,
			ProxyURL:                 "http://proxy.internal:3128",
		})
		tr := client.Transport.(*http.Transport)
		assert.Equal(t, 15*time.Second, tr.ResponseHeaderTimeout)
		assert.Equal(t, 3*time.Second, tr.TLSHandshakeTimeout)

		req, _ := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
		u, err := tr.Proxy(req)
		require.NoError(t, err)
		assert.Equal(t, "proxy.internal:3128", u.Host)
	})
}
