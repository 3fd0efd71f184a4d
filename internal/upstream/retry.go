package upstream

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// resetHeaders are consulted in order; the longest positive delay wins.
var resetHeaders = []string{
	"retry-after-ms",
	"retry-after",
	"x-ratelimit-reset-requests",
	"x-ratelimit-reset-tokens",
	"x-ratelimit-reset",
	"anthropic-ratelimit-requests-reset",
	"anthropic-ratelimit-tokens-reset",
	"anthropic-ratelimit-input-tokens-reset",
	"anthropic-ratelimit-output-tokens-reset",
}

// headerDelay returns the server-requested wait. A zero or negative value
// counts as absent so the caller falls back to jittered backoff.
func headerDelay(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	var best time.Duration
	for _, name := range resetHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		var d time.Duration
		var ok bool
		switch name {
		case "retry-after-ms":
			if ms, err := strconv.ParseFloat(v, 64); err == nil {
				d, ok = time.Duration(ms*float64(time.Millisecond)), true
			}
		case "retry-after":
			d, ok = parseRetryAfter(v, now)
		case "x-ratelimit-reset":
			d, ok = parseResetNumber(v, now)
		default:
			d, ok = parseResetValue(v, now)
		}
		if ok && d > best {
			best = d
		}
	}
	return best, best > 0
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	for _, layout := range []string{http.TimeFormat, time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Sub(now), true
		}
	}
	return 0, false
}

// parseResetNumber handles x-ratelimit-reset, sent either as seconds to wait
// or as a unix timestamp.
func parseResetNumber(v string, now time.Time) (time.Duration, bool) {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return parseResetValue(v, now)
	}
	if n > 1e9 {
		return time.Unix(0, int64(n*float64(time.Second))).Sub(now), true
	}
	return time.Duration(n * float64(time.Second)), true
}

// parseResetValue handles Go-style durations ("6m0s", "20ms"), bare seconds
// and RFC 3339 timestamps.
func parseResetValue(v string, now time.Time) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.Sub(now), true
	}
	return 0, false
}

// backoff returns base·2^round scaled by a jitter factor in [0.5, 1.5).
func backoff(base time.Duration, round int, jitter float64) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if round > 16 {
		round = 16
	}
	return time.Duration(float64(base) * math.Pow(2, float64(round)) * (0.5 + jitter))
}

// nextDelay combines header hints, backoff, the per-sleep cap and the
// remaining budget.
func (e *Engine) nextDelay(h http.Header, round int, remaining time.Duration) time.Duration {
	d := backoff(e.BaseBackoff, round, e.rand())
	if hd, ok := headerDelay(h, e.now()); ok && hd < d {
		d = hd
	}
	if limit := e.MaxBackoff; limit > 0 && d > limit {
		d = limit
	}
	if d > remaining {
		d = remaining
	}
	if d < minDelay && remaining >= minDelay {
		d = minDelay
	}
	return d
}
