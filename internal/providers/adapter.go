// Package providers translates canonical chat requests into vendor wire
// formats and vendor responses back into canonical chunks.
package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aiproxy-go/internal/credential"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
)

// Native marks requests whose body is already in a vendor format.
type Native string

const (
	NativeNone      Native = ""
	NativeAnthropic Native = "anthropic"
	NativeGoogle    Native = "google"
)

// Request is the provider-neutral call handed to adapters. Adapters must not
// modify it: the same request is replayed against every candidate secret.
type Request struct {
	// Endpoint is the logical path, e.g. "chat/completions".
	Endpoint string
	Model    string
	Body     []byte
	Stream   bool
	Native   Native
	// Method is the Google method for native Google calls
	// ("generateContent", "streamGenerateContent", "countTokens").
	Method string
	// Header holds forwarded client headers (lower-cased keys).
	Header http.Header
}

// IsChat reports whether the request targets the chat completion endpoint.
func (r *Request) IsChat() bool { return r.Endpoint == "chat/completions" }

// Adapter is one provider family's capability set.
type Adapter interface {
	Name() string
	BuildRequest(ctx context.Context, req *Request, secret *credential.APISecret) (*http.Request, error)
	// ParseResponse converts a complete non-streaming body to canonical JSON.
	ParseResponse(body []byte, req *Request) ([]byte, error)
	// ParseStreamEvent converts one vendor event, threading state.
	ParseStreamEvent(ev sse.Event, state *schema.StreamState) (sse.ParseResult, error)
}

// EventSourcer is implemented by adapters whose streams are not text SSE.
type EventSourcer interface {
	EventSource(body io.ReadCloser) sse.Source
}

// StateInitializer lets adapters seed per-call stream state from the request.
type StateInitializer interface {
	InitState(req *Request, state *schema.StreamState)
}

// UpstreamError is an upstream failure that carries an HTTP status; the
// failover engine treats it like the corresponding response.
type UpstreamError struct {
	Status int
	Hdr    http.Header
	Body   []byte
	Msg    string
}

func (e *UpstreamError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

// StatusCode returns the embedded HTTP status.
func (e *UpstreamError) StatusCode() int { return e.Status }

// Header returns the embedded response headers.
func (e *UpstreamError) Header() http.Header { return e.Hdr }

// ResponseBody returns the embedded body.
func (e *UpstreamError) ResponseBody() []byte { return e.Body }

func newJSONRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func applyAdditionalHeaders(req *http.Request, secret *credential.APISecret) {
	for k, v := range secret.Metadata.AdditionalHeaders {
		req.Header.Set(k, v)
	}
}

// forwardHeaders copies selected client headers onto the upstream request.
func forwardHeaders(dst *http.Request, src http.Header, names ...string) {
	if src == nil {
		return
	}
	for _, n := range names {
		if v := src.Get(n); v != "" {
			dst.Header.Set(n, v)
		}
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func unsupportedEndpoint(provider, endpoint string) error {
	return apperrors.BadRequest(fmt.Sprintf("%s does not support the %s endpoint", provider, endpoint))
}
