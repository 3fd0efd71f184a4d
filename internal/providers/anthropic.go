package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"aiproxy-go/internal/constants"
	"aiproxy-go/internal/credential"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
	"github.com/tidwall/sjson"
)

const (
	anthropicDefaultBase   = "https://api.anthropic.com/v1"
	vertexAnthropicVersion = "vertex-2023-10-16"
)

type anthropicMode int

const (
	anthropicDirect anthropicMode = iota
	anthropicVertex
	anthropicBedrock
)

// AnthropicAdapter speaks the Anthropic Messages API directly or through
// Vertex AI.
type AnthropicAdapter struct {
	mode   anthropicMode
	tokens *TokenCache
}

// NewAnthropicAdapter serves `anthropic` secrets.
func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{mode: anthropicDirect}
}

// NewVertexAnthropicAdapter serves Claude models on `vertex` secrets.
func NewVertexAnthropicAdapter(tokens *TokenCache) *AnthropicAdapter {
	return &AnthropicAdapter{mode: anthropicVertex, tokens: tokens}
}

func (a *AnthropicAdapter) Name() string {
	if a.mode == anthropicVertex {
		return "vertex-anthropic"
	}
	return "anthropic"
}

// messagesBody returns the Anthropic body for req, translated unless native.
func messagesBody(req *Request) ([]byte, error) {
	if req.Native == NativeAnthropic {
		return req.Body, nil
	}
	if req.Native != NativeNone {
		return nil, fmt.Errorf("anthropic: cannot serve %s request", req.Native)
	}
	if !req.IsChat() {
		return nil, unsupportedEndpoint("anthropic", req.Endpoint)
	}
	ar, err := toAnthropic(req.Body)
	if err != nil {
		return nil, err
	}
	if usesJSONTool(req.Body, req.Model, false) {
		applyJSONTool(ar, req.Body)
	}
	return json.Marshal(ar)
}

func (a *AnthropicAdapter) BuildRequest(ctx context.Context, req *Request, secret *credential.APISecret) (*http.Request, error) {
	body, err := messagesBody(req)
	if err != nil {
		return nil, err
	}
	switch a.mode {
	case anthropicVertex:
		return a.buildVertex(ctx, req, secret, body)
	default:
		base := secret.Metadata.APIBase
		if base == "" {
			base = anthropicDefaultBase
		}
		hreq, err := newJSONRequest(ctx, joinURL(base, "messages"), body)
		if err != nil {
			return nil, err
		}
		hreq.Header.Set("x-api-key", secret.Secret)
		hreq.Header.Set("anthropic-version", constants.AnthropicVersion)
		forwardHeaders(hreq, req.Header, "anthropic-version", "anthropic-beta")
		if req.Stream {
			hreq.Header.Set("Accept", "text/event-stream")
		}
		applyAdditionalHeaders(hreq, secret)
		return hreq, nil
	}
}

func (a *AnthropicAdapter) buildVertex(ctx context.Context, req *Request, secret *credential.APISecret, body []byte) (*http.Request, error) {
	var err error
	if body, err = sjson.DeleteBytes(body, "model"); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "anthropic_version", vertexAnthropicVersion); err != nil {
		return nil, err
	}
	method := "rawPredict"
	if req.Stream {
		method = "streamRawPredict"
	}
	md := secret.Metadata
	target := vertexBase(md) + "/publishers/anthropic/models/" + url.PathEscape(req.Model) + ":" + method
	hreq, err := newJSONRequest(ctx, target, body)
	if err != nil {
		return nil, err
	}
	tok, err := a.tokens.GoogleServiceAccount(ctx, secret.Secret)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Authorization", "Bearer "+tok)
	applyAdditionalHeaders(hreq, secret)
	return hreq, nil
}

// vertexBase returns https://{region}-aiplatform.googleapis.com/v1/projects/{p}/locations/{region}.
func vertexBase(md credential.Metadata) string {
	region := md.Region
	if region == "" {
		region = "us-central1"
	}
	host := "https://" + region + "-aiplatform.googleapis.com"
	if region == "global" {
		host = "https://aiplatform.googleapis.com"
	}
	if md.APIBase != "" {
		host = strings.TrimRight(md.APIBase, "/")
	}
	return host + "/v1/projects/" + url.PathEscape(md.Project) + "/locations/" + url.PathEscape(region)
}

func (a *AnthropicAdapter) InitState(req *Request, state *schema.StreamState) {
	state.StructuredViaTool = usesJSONTool(req.Body, req.Model, req.Native != NativeNone)
}

func (a *AnthropicAdapter) ParseResponse(body []byte, req *Request) ([]byte, error) {
	return fromAnthropic(body, req.Model, usesJSONTool(req.Body, req.Model, req.Native != NativeNone))
}

func (a *AnthropicAdapter) ParseStreamEvent(ev sse.Event, state *schema.StreamState) (sse.ParseResult, error) {
	return parseAnthropicEvent(ev, state)
}

func parseAnthropicEvent(ev sse.Event, state *schema.StreamState) (sse.ParseResult, error) {
	data := strings.TrimSpace(ev.Data)
	if data == "" || data == "null" {
		return sse.ParseResult{}, nil
	}
	var e anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return sse.ParseResult{}, fmt.Errorf("decode anthropic event: %w", err)
	}
	typ := e.Type
	if typ == "" {
		typ = ev.Event
	}

	switch typ {
	case "message_start":
		if e.Message != nil {
			state.Usage = anthropicUsageToCanonical(e.Message.Usage)
		}
		return sse.ParseResult{}, nil

	case "content_block_start":
		if e.ContentBlock == nil {
			return sse.ParseResult{}, nil
		}
		switch e.ContentBlock.Type {
		case "tool_use":
			if state.StructuredViaTool && e.ContentBlock.Name == jsonToolName {
				state.Blocks[e.Index] = schema.Block{Kind: "json"}
				return sse.ParseResult{}, nil
			}
			slot, chunk := state.StartToolCall(e.ContentBlock.ID, e.ContentBlock.Name)
			state.Blocks[e.Index] = schema.Block{Kind: "tool_use", ToolSlot: slot}
			return sse.ParseResult{Data: schema.MustJSON(chunk)}, nil
		default:
			state.Blocks[e.Index] = schema.Block{Kind: e.ContentBlock.Type}
		}
		return sse.ParseResult{}, nil

	case "content_block_delta":
		if e.Delta == nil {
			return sse.ParseResult{}, nil
		}
		block := state.Blocks[e.Index]
		switch e.Delta.Type {
		case "text_delta":
			text := e.Delta.Text
			if state.ContentIndex == 0 {
				text = strings.TrimLeftFunc(text, unicode.IsSpace)
				if text == "" {
					return sse.ParseResult{}, nil
				}
			}
			return sse.ParseResult{Data: schema.MustJSON(state.ContentChunk(text))}, nil
		case "input_json_delta":
			if e.Delta.PartialJSON == "" {
				return sse.ParseResult{}, nil
			}
			if block.Kind == "json" {
				return sse.ParseResult{Data: schema.MustJSON(state.ContentChunk(e.Delta.PartialJSON))}, nil
			}
			return sse.ParseResult{Data: schema.MustJSON(state.ToolArgsChunk(block.ToolSlot, e.Delta.PartialJSON))}, nil
		case "thinking_delta":
			newSegment := !block.Started
			block.Started = true
			state.Blocks[e.Index] = block
			return sse.ParseResult{Data: schema.MustJSON(state.ReasoningChunk(e.Delta.Thinking, newSegment))}, nil
		case "signature_delta":
			state.SetReasoningSignature(e.Delta.Signature)
		}
		return sse.ParseResult{}, nil

	case "message_delta":
		if e.Usage != nil {
			mergeAnthropicUsage(state, *e.Usage)
		}
		reason := ""
		if e.Delta != nil {
			reason = e.Delta.StopReason
		}
		return sse.ParseResult{Data: schema.MustJSON(state.FinishChunk(anthropicFinishReason(reason, state.StructuredViaTool)))}, nil

	case "message_stop":
		if m := e.InvocationMetrics; m != nil {
			state.Usage = &schema.Usage{
				PromptTokens:     m.InputTokenCount,
				CompletionTokens: m.OutputTokenCount,
				TotalTokens:      m.InputTokenCount + m.OutputTokenCount,
			}
			return sse.ParseResult{Data: schema.MustJSON(state.UsageChunk()), Finished: true}, nil
		}
		return sse.ParseResult{Finished: true}, nil

	case "error":
		msg := "unknown error"
		if e.Error != nil {
			msg = e.Error.Type + ": " + e.Error.Message
		}
		return sse.ParseResult{}, fmt.Errorf("anthropic stream error: %s", msg)
	}
	// ping, content_block_stop and unknown events
	return sse.ParseResult{}, nil
}

func mergeAnthropicUsage(state *schema.StreamState, u anthropicUsage) {
	if state.Usage == nil {
		state.Usage = &schema.Usage{}
	}
	if u.InputTokens > 0 || u.CacheReadInputTokens > 0 || u.CacheCreationInputTokens > 0 {
		prompt := anthropicUsageToCanonical(u)
		state.Usage.PromptTokens = prompt.PromptTokens
		state.Usage.PromptTokensDetails = prompt.PromptTokensDetails
	}
	state.Usage.CompletionTokens = u.OutputTokens
	state.Usage.TotalTokens = state.Usage.PromptTokens + state.Usage.CompletionTokens
}
