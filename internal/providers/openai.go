package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"aiproxy-go/internal/constants"
	"aiproxy-go/internal/credential"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// vendor describes one OpenAI-compatible backend.
type vendor struct {
	base string
	// stripStreamOptions drops stream_options, which the vendor rejects.
	stripStreamOptions bool
	// stripParallelToolCalls drops parallel_tool_calls.
	stripParallelToolCalls bool
}

var vendors = map[string]vendor{
	credential.TypeOpenAI:     {base: "https://api.openai.com/v1"},
	credential.TypeAzure:      {stripParallelToolCalls: true},
	credential.TypeDatabricks: {stripStreamOptions: true},
	credential.TypeMistral:    {base: "https://api.mistral.ai/v1", stripStreamOptions: true},
	credential.TypeGroq:       {base: "https://api.groq.com/openai/v1", stripStreamOptions: true},
	credential.TypeTogether:   {base: "https://api.together.xyz/v1"},
	credential.TypeFireworks:  {base: "https://api.fireworks.ai/inference/v1", stripStreamOptions: true},
	credential.TypePerplexity: {base: "https://api.perplexity.ai", stripStreamOptions: true},
	credential.TypeXAI:        {base: "https://api.x.ai/v1"},
	credential.TypeCerebras:   {base: "https://api.cerebras.ai/v1", stripStreamOptions: true},
	credential.TypeOllama:     {base: "http://127.0.0.1:11434/v1", stripStreamOptions: true},
	credential.TypeLepton:     {base: "https://{model}.lepton.run/api/v1"},
}

// OpenAIAdapter serves the OpenAI-compatible family. Requests pass through
// with vendor-incompatible parameters removed; responses are already
// canonical.
type OpenAIAdapter struct {
	kind   string
	vendor vendor
	tokens *TokenCache
}

// NewOpenAIAdapter returns the adapter for an OpenAI-compatible secret type.
func NewOpenAIAdapter(kind string, tokens *TokenCache) *OpenAIAdapter {
	return &OpenAIAdapter{kind: kind, vendor: vendors[kind], tokens: tokens}
}

func (a *OpenAIAdapter) Name() string { return a.kind }

func (a *OpenAIAdapter) BuildRequest(ctx context.Context, req *Request, secret *credential.APISecret) (*http.Request, error) {
	if req.Native != NativeNone {
		return nil, apperrors.BadRequest("provider " + a.kind + " does not accept " + string(req.Native) + " requests")
	}
	body, err := a.prepareBody(req)
	if err != nil {
		return nil, err
	}

	target, err := a.url(req, secret)
	if err != nil {
		return nil, err
	}
	hreq, err := newJSONRequest(ctx, target, body)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(ctx, hreq, secret); err != nil {
		return nil, err
	}
	if org := secret.OrgName; org != "" && a.kind == credential.TypeOpenAI {
		hreq.Header.Set("OpenAI-Organization", org)
	}
	if req.Stream {
		hreq.Header.Set("Accept", "text/event-stream")
	}
	applyAdditionalHeaders(hreq, secret)
	return hreq, nil
}

func (a *OpenAIAdapter) prepareBody(req *Request) ([]byte, error) {
	body := req.Body
	var err error
	if a.vendor.stripParallelToolCalls && gjson.GetBytes(body, "parallel_tool_calls").Exists() {
		if body, err = sjson.DeleteBytes(body, "parallel_tool_calls"); err != nil {
			return nil, err
		}
	}
	if a.vendor.stripStreamOptions {
		if gjson.GetBytes(body, "stream_options").Exists() {
			if body, err = sjson.DeleteBytes(body, "stream_options"); err != nil {
				return nil, err
			}
		}
	} else if req.Stream && req.IsChat() && !gjson.GetBytes(body, "stream_options").Exists() {
		// usage is needed by the telemetry tap
		if body, err = sjson.SetBytes(body, "stream_options.include_usage", true); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (a *OpenAIAdapter) url(req *Request, secret *credential.APISecret) (string, error) {
	md := secret.Metadata
	switch a.kind {
	case credential.TypeAzure:
		deployment := md.Deployment
		if deployment == "" {
			deployment = strings.ReplaceAll(req.Model, ".", "")
		}
		version := md.APIVersion
		if version == "" {
			version = constants.AzureDefaultAPIVersion
		}
		u := joinURL(md.APIBase, "openai/deployments/"+url.PathEscape(deployment)+"/"+req.Endpoint)
		return u + "?api-version=" + url.QueryEscape(version), nil
	case credential.TypeDatabricks:
		return joinURL(joinURL(md.APIBase, "serving-endpoints"), req.Endpoint), nil
	}
	base := md.APIBase
	if base == "" {
		base = a.vendor.base
	}
	if base == "" {
		return "", apperrors.BadRequest("secret " + secret.DisplayName() + " has no api_base")
	}
	base = strings.ReplaceAll(base, "{model}", url.PathEscape(req.Model))
	return joinURL(base, req.Endpoint), nil
}

func (a *OpenAIAdapter) authorize(ctx context.Context, hreq *http.Request, secret *credential.APISecret) error {
	md := secret.Metadata
	switch a.kind {
	case credential.TypeAzure:
		if md.AuthType == credential.AuthEntra {
			tokenURL := md.TokenURL
			if tokenURL == "" {
				tokenURL = azureTokenURL(md.TenantID)
			}
			scope := md.Scope
			if scope == "" {
				scope = azureEntraScope
			}
			tok, err := a.tokens.ClientCredentials(ctx, tokenURL, md.ClientID, secret.Secret, scope)
			if err != nil {
				return err
			}
			hreq.Header.Set("Authorization", "Bearer "+tok)
			return nil
		}
		hreq.Header.Set("api-key", secret.Secret)
		return nil
	case credential.TypeDatabricks:
		if md.AuthType == credential.AuthClientCredentials {
			tokenURL := md.TokenURL
			if tokenURL == "" {
				tokenURL = joinURL(md.APIBase, "oidc/v1/token")
			}
			scope := md.Scope
			if scope == "" {
				scope = databricksScope
			}
			tok, err := a.tokens.ClientCredentials(ctx, tokenURL, md.ClientID, secret.Secret, scope)
			if err != nil {
				return err
			}
			hreq.Header.Set("Authorization", "Bearer "+tok)
			return nil
		}
	}
	if secret.Secret != "" {
		hreq.Header.Set("Authorization", "Bearer "+secret.Secret)
	}
	return nil
}

func (a *OpenAIAdapter) ParseResponse(body []byte, _ *Request) ([]byte, error) {
	return body, nil
}

// ParseStreamEvent forwards canonical chunks unchanged and remembers the
// finish reason so an upstream that omits [DONE] still ends cleanly.
func (a *OpenAIAdapter) ParseStreamEvent(ev sse.Event, state *schema.StreamState) (sse.ParseResult, error) {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return sse.ParseResult{}, nil
	}
	if e := gjson.Get(data, "error"); e.Exists() && e.IsObject() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return sse.ParseResult{}, fmt.Errorf("%s stream error: %s", a.kind, msg)
	}
	if reason := gjson.Get(data, "choices.0.finish_reason").String(); reason != "" {
		state.FinishReason = reason
	}
	return sse.ParseResult{Data: []byte(data)}, nil
}

// Passthrough reports that non-streaming responses are already canonical.
func (a *OpenAIAdapter) Passthrough() bool { return true }
