package upstream

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeaderDelay(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		header map[string]string
		want   time.Duration
		ok     bool
	}{
		{"none", nil, 0, false},
		{"retry-after seconds", map[string]string{"Retry-After": "3"}, 3 * time.Second, true},
		{"retry-after date", map[string]string{"Retry-After": now.Add(5 * time.Second).Format(http.TimeFormat)}, 5 * time.Second, true},
		{"retry-after-ms", map[string]string{"Retry-After-Ms": "1500"}, 1500 * time.Millisecond, true},
		{"openai duration", map[string]string{"X-Ratelimit-Reset-Requests": "6m0s"}, 6 * time.Minute, true},
		{"unix timestamp", map[string]string{"X-Ratelimit-Reset": "1714564810"}, 10 * time.Second, true},
		{"anthropic rfc3339", map[string]string{"Anthropic-Ratelimit-Tokens-Reset": now.Add(2 * time.Second).Format(time.RFC3339)}, 2 * time.Second, true},
		{"longest wins", map[string]string{"Retry-After": "1", "X-Ratelimit-Reset-Tokens": "4s"}, 4 * time.Second, true},
		{"zero is absent", map[string]string{"Retry-After": "0"}, 0, false},
		{"past date is absent", map[string]string{"Retry-After": now.Add(-time.Minute).Format(http.TimeFormat)}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tc.header {
				h.Set(k, v)
			}
			got, ok := headerDelay(h, now)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextDelayCaps(t *testing.T) {
	e, _ := testEngine()
	// round 10 backoff is far beyond the per-sleep cap
	assert.Equal(t, 10*time.Second, e.nextDelay(nil, 10, time.Minute))
	assert.Equal(t, 3*time.Second, e.nextDelay(nil, 10, 3*time.Second))
	assert.Equal(t, time.Second, e.nextDelay(nil, 0, time.Minute))

	h := http.Header{}
	h.Set("Retry-After-Ms", "1")
	assert.Equal(t, minDelay, e.nextDelay(h, 0, time.Minute))
}

func TestTimedBodyReportsOnce(t *testing.T) {
	start := time.Unix(100, 0)
	clock := start
	calls := 0
	var ttfb, total time.Duration
	tb := Timed(io.NopCloser(strings.NewReader("hello")), start, func(f, tot time.Duration) {
		calls++
		ttfb, total = f, tot
	})
	tb.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	_, err := io.ReadAll(tb)
	assert.NoError(t, err)
	assert.NoError(t, tb.Close())
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Second, ttfb)
	assert.Equal(t, 2*time.Second, total)
}
