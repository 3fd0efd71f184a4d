// Package proxy is the request orchestrator: it parses an inbound call,
// serves it from the encrypted response cache when allowed, otherwise runs
// the failover engine over the caller's credentials, and streams the
// normalized response through the cache tee, telemetry tap and optional
// re-encoder to the client exactly once.
package proxy

import (
	"net/http"
	"regexp"
	"strings"

	"aiproxy-go/internal/constants"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/models"
	"aiproxy-go/internal/providers"
	"github.com/tidwall/gjson"
)

// 逻辑端点
const (
	EndpointAuto            = "auto"
	EndpointChat            = "chat/completions"
	EndpointCompletions     = "completions"
	EndpointResponses       = "responses"
	EndpointEmbeddings      = "embeddings"
	EndpointModerations     = "moderations"
	EndpointAnthropic       = "anthropic/messages"
	EndpointAnthropicV1     = "anthropic/v1/messages"
	EndpointGoogle          = "google"
	EndpointCredentials     = "credentials"
	orgPrefix               = "btorg/"
	anthropicNativeEndpoint = "messages"
)

var googleRoute = regexp.MustCompile(`^(?:google/)?(?:v1(?:beta)?/)?models/([^:/]+):([A-Za-z]+)$`)

// cacheableEndpoints 允许缓存的逻辑端点
var cacheableEndpoints = map[string]bool{
	EndpointChat:        true,
	EndpointCompletions: true,
	EndpointResponses:   true,
	EndpointEmbeddings:  true,
	EndpointModerations: true,
	EndpointAnthropic:   true,
	EndpointAnthropicV1: true,
	EndpointGoogle:      true,
}

// Request is one parsed inbound call. It is not modified after ParseRequest.
type Request struct {
	Method string
	// Path is the logical path after the route prefix and any org rewrite.
	Path string
	// Endpoint is the normalized endpoint name used for routing and caching.
	Endpoint string
	Header   http.Header
	Body     []byte

	Model     string
	Stream    bool
	Cacheable bool
	OrgName   string
	Native    providers.Native
	// GoogleMethod is set for the Google models/<model>:<method> route.
	GoogleMethod string
}

// ParseRequest normalizes headers, applies the btorg/<org>/ rewrite and the
// /auto routing, and derives the streaming, model and cacheability flags.
func ParseRequest(method, path string, header http.Header, body []byte) (*Request, error) {
	r := &Request{
		Method: method,
		Header: normalizeHeaders(header),
		Body:   body,
	}
	path = strings.Trim(path, "/")
	if strings.HasPrefix(path, orgPrefix) {
		rest := strings.TrimPrefix(path, orgPrefix)
		org, tail, ok := strings.Cut(rest, "/")
		if !ok || org == "" {
			return nil, apperrors.BadRequest("btorg path must be btorg/<org>/<endpoint>")
		}
		r.OrgName = org
		path = tail
	}
	if r.OrgName == "" {
		r.OrgName = r.Header.Get(constants.HeaderOrgName)
	}
	r.Path = path

	if m := googleRoute.FindStringSubmatch(path); m != nil {
		r.Endpoint = EndpointGoogle
		r.Model = m[1]
		r.GoogleMethod = m[2]
		r.Native = providers.NativeGoogle
		r.Stream = m[2] == "streamGenerateContent"
	} else {
		r.Endpoint = path
		r.Model = gjson.GetBytes(body, "model").String()
		r.Stream = gjson.GetBytes(body, "stream").Bool()
		switch path {
		case EndpointAnthropic, EndpointAnthropicV1:
			r.Native = providers.NativeAnthropic
		case EndpointAuto:
			if r.Model == "" {
				return nil, apperrors.BadRequest("auto endpoint requires a model")
			}
			spec, _ := models.Lookup(r.Model)
			switch spec.Flavor {
			case models.FlavorCompletion:
				r.Endpoint = EndpointCompletions
			case models.FlavorEmbedding:
				r.Endpoint = EndpointEmbeddings
			default:
				r.Endpoint = EndpointChat
			}
		}
	}
	r.Cacheable = method == http.MethodPost && cacheableEndpoints[r.Endpoint]
	return r, nil
}

// ProviderRequest is the adapter-facing view of r.
func (r *Request) ProviderRequest() *providers.Request {
	endpoint := r.Endpoint
	if r.Native == providers.NativeAnthropic {
		endpoint = anthropicNativeEndpoint
	}
	return &providers.Request{
		Endpoint: endpoint,
		Model:    r.Model,
		Body:     r.Body,
		Stream:   r.Stream,
		Native:   r.Native,
		Method:   r.GoogleMethod,
		Header:   r.Header,
	}
}

// ErrorFormat picks the error envelope the caller's SDK understands.
func (r *Request) ErrorFormat() apperrors.ErrorFormat {
	switch r.Native {
	case providers.NativeAnthropic:
		return apperrors.FormatAnthropic
	case providers.NativeGoogle:
		return apperrors.FormatGoogle
	}
	return apperrors.FormatOpenAI
}

// AuthToken extracts the caller token from the authorization header or the
// vendor-specific key headers used by native SDKs.
func (r *Request) AuthToken() string {
	if v := r.Header.Get("authorization"); v != "" {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
		return strings.TrimSpace(v)
	}
	for _, h := range []string{"x-api-key", "x-goog-api-key"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return ""
}

// normalizeHeaders copies h with canonical keys so every lookup is case
// insensitive, whatever casing the caller or a test used.
func normalizeHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		ck := http.CanonicalHeaderKey(k)
		out[ck] = append(out[ck], v...)
	}
	return out
}
