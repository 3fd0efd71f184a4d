package proxy

import (
	"errors"
	"strconv"
	"strings"

	"aiproxy-go/internal/constants"
	apperrors "aiproxy-go/internal/errors"
	"github.com/tidwall/gjson"
)

// CacheMode is the caller's x-bt-use-cache choice.
type CacheMode string

const (
	CacheAuto   CacheMode = "auto"
	CacheAlways CacheMode = "always"
	CacheNever  CacheMode = "never"
)

// ErrInvalidCacheMode is returned for an unrecognized cache mode header.
var ErrInvalidCacheMode = errors.New("invalid cache mode")

// ParseCacheMode parses a mode header; empty means auto.
func ParseCacheMode(v string) (CacheMode, error) {
	switch CacheMode(strings.ToLower(strings.TrimSpace(v))) {
	case "", CacheAuto:
		return CacheAuto, nil
	case CacheAlways:
		return CacheAlways, nil
	case CacheNever:
		return CacheNever, nil
	}
	return "", ErrInvalidCacheMode
}

// cacheControl holds the request Cache-Control directives we honour.
type cacheControl struct {
	noCache bool
	noStore bool
	maxAge  int
	hasAge  bool
}

func parseCacheControl(v string) cacheControl {
	var cc cacheControl
	for _, part := range strings.Split(v, ",") {
		d := strings.ToLower(strings.TrimSpace(part))
		switch {
		case d == "no-cache":
			cc.noCache = true
		case d == "no-store":
			cc.noStore = true
		case strings.HasPrefix(d, "max-age="):
			if n, err := strconv.Atoi(strings.TrimPrefix(d, "max-age=")); err == nil && n >= 0 {
				cc.maxAge, cc.hasAge = n, true
			}
		}
	}
	return cc
}

// Policy is the negotiated cache behaviour for one request.
type Policy struct {
	Mode  CacheMode
	Read  bool
	Write bool
	// TTL is the write TTL in seconds, always within [MinCacheTTL, MaxCacheTTL].
	TTL int
	// MaxAge, when positive, rejects cached entries older than it on read.
	MaxAge int
}

// NegotiatePolicy decides read/write eligibility and the TTL. defaultTTL is
// used when neither x-bt-cache-ttl nor Cache-Control max-age is present.
func NegotiatePolicy(r *Request, defaultTTL int) (Policy, error) {
	mode, err := ParseCacheMode(r.Header.Get(constants.HeaderUseCache))
	if err != nil {
		return Policy{}, apperrors.BadRequest("invalid " + constants.HeaderUseCache + " header: must be one of auto, always, never")
	}
	cc := parseCacheControl(r.Header.Get("Cache-Control"))

	p := Policy{Mode: mode}
	ttl := defaultTTL
	if cc.hasAge {
		ttl = cc.maxAge
		p.MaxAge = cc.maxAge
	}
	if v := strings.TrimSpace(r.Header.Get(constants.HeaderCacheTTL)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Policy{}, apperrors.BadRequest("invalid " + constants.HeaderCacheTTL + " header: must be an integer number of seconds")
		}
		ttl = clampTTL64(n)
	}
	p.TTL = clampTTL64(int64(ttl))

	eligible := r.Cacheable && mode != CacheNever && (mode == CacheAlways || deterministic(r.Body))
	p.Read = eligible && !cc.noCache
	p.Write = eligible && !cc.noStore
	return p, nil
}

// deterministic reports whether sampling is pinned: temperature is zero, or
// temperature is unset and a seed is given.
func deterministic(body []byte) bool {
	temp := gjson.GetBytes(body, "temperature")
	if temp.Exists() && temp.Type != gjson.Null {
		return temp.Type == gjson.Number && temp.Float() == 0
	}
	seed := gjson.GetBytes(body, "seed")
	return seed.Exists() && seed.Type != gjson.Null
}

func clampTTL64(n int64) int {
	if n < constants.MinCacheTTL {
		return constants.MinCacheTTL
	}
	if n > constants.MaxCacheTTL {
		return constants.MaxCacheTTL
	}
	return int(n)
}
