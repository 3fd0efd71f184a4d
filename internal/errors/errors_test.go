package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestToJSONFormats(t *testing.T) {
	e := New(http.StatusTooManyRequests, "rate_limit_exceeded", "rate_limit_error", "slow down")

	oa := e.ToJSON(FormatOpenAI)
	assert.Equal(t, "slow down", gjson.GetBytes(oa, "error.message").String())
	assert.Equal(t, "rate_limit_error", gjson.GetBytes(oa, "error.type").String())

	an := e.ToJSON(FormatAnthropic)
	assert.Equal(t, "error", gjson.GetBytes(an, "type").String())
	assert.Equal(t, "rate_limit_error", gjson.GetBytes(an, "error.type").String())

	gg := e.ToJSON(FormatGoogle)
	assert.Equal(t, int64(429), gjson.GetBytes(gg, "error.code").Int())
	assert.Equal(t, "RESOURCE_EXHAUSTED", gjson.GetBytes(gg, "error.status").String())
}

func TestMapNetworkError(t *testing.T) {
	assert.Nil(t, MapNetworkError(nil))
	assert.Equal(t, http.StatusGatewayTimeout, MapNetworkError(context.DeadlineExceeded).HTTPStatus)
	assert.Equal(t, http.StatusBadGateway, MapNetworkError(fmt.Errorf("dial: refused")).HTTPStatus)

	api := BadRequest("bad")
	wrapped := fmt.Errorf("outer: %w", api)
	got := MapNetworkError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, api, got)
}
