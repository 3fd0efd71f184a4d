package proxy

import (
	"net/http"
	"strings"
)

// blockedHeaders are never forwarded from upstream to the client.
var blockedHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-encoding":    true,
	"content-length":      true,
	"set-cookie":          true,
}

func forwardable(name string) bool {
	n := strings.ToLower(name)
	return !blockedHeaders[n] && !strings.HasPrefix(n, "access-control-")
}

// filterHeaders returns the forwardable upstream headers with lower-cased
// names. Headers already present on the client response are kept by the
// sink, see oneShot.begin.
func filterHeaders(upstream http.Header) map[string]string {
	out := make(map[string]string, len(upstream))
	for k, v := range upstream {
		if len(v) == 0 || !forwardable(k) {
			continue
		}
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}
