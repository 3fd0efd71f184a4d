package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"aiproxy-go/internal/credential"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
	"github.com/tidwall/gjson"
)

const googleAIStudioBase = "https://generativelanguage.googleapis.com/v1beta"

// GoogleAdapter serves Gemini models via AI Studio (API key) or Vertex AI
// (service-account bearer token).
type GoogleAdapter struct {
	vertex bool
	tokens *TokenCache
}

// NewGoogleAdapter serves `google` secrets.
func NewGoogleAdapter() *GoogleAdapter { return &GoogleAdapter{} }

// NewVertexGoogleAdapter serves Gemini models on `vertex` secrets.
func NewVertexGoogleAdapter(tokens *TokenCache) *GoogleAdapter {
	return &GoogleAdapter{vertex: true, tokens: tokens}
}

func (a *GoogleAdapter) Name() string {
	if a.vertex {
		return "vertex"
	}
	return "google"
}

func googleMethod(req *Request) string {
	if req.Native == NativeGoogle && req.Method != "" {
		return req.Method
	}
	if req.Stream {
		return "streamGenerateContent"
	}
	return "generateContent"
}

func (a *GoogleAdapter) BuildRequest(ctx context.Context, req *Request, secret *credential.APISecret) (*http.Request, error) {
	var body []byte
	switch req.Native {
	case NativeGoogle:
		body = req.Body
	case NativeNone:
		if !req.IsChat() {
			return nil, unsupportedEndpoint("google", req.Endpoint)
		}
		var err error
		if body, err = toGoogle(req.Body); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.BadRequest("google does not accept " + string(req.Native) + " requests")
	}

	method := googleMethod(req)
	var target string
	if a.vertex {
		target = vertexBase(secret.Metadata) + "/publishers/google/models/" + url.PathEscape(req.Model) + ":" + method
	} else {
		base := secret.Metadata.APIBase
		if base == "" {
			base = googleAIStudioBase
		}
		target = joinURL(base, "models/"+url.PathEscape(req.Model)+":"+method)
	}
	if method == "streamGenerateContent" {
		target += "?alt=sse"
	}

	hreq, err := newJSONRequest(ctx, target, body)
	if err != nil {
		return nil, err
	}
	if a.vertex {
		tok, err := a.tokens.GoogleServiceAccount(ctx, secret.Secret)
		if err != nil {
			return nil, err
		}
		hreq.Header.Set("Authorization", "Bearer "+tok)
	} else {
		hreq.Header.Set("x-goog-api-key", secret.Secret)
	}
	applyAdditionalHeaders(hreq, secret)
	return hreq, nil
}

func googleFinishReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "":
		return ""
	case "STOP":
		if hasToolCalls {
			return "tool_calls"
		}
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY", "LANGUAGE":
		return "content_filter"
	}
	if hasToolCalls {
		return "tool_calls"
	}
	return "stop"
}

func googleUsage(u gjson.Result) *schema.Usage {
	if !u.Exists() {
		return nil
	}
	thoughts := int(u.Get("thoughtsTokenCount").Int())
	out := &schema.Usage{
		PromptTokens:     int(u.Get("promptTokenCount").Int()),
		CompletionTokens: int(u.Get("candidatesTokenCount").Int()) + thoughts,
	}
	out.TotalTokens = out.PromptTokens + out.CompletionTokens
	if cached := int(u.Get("cachedContentTokenCount").Int()); cached > 0 {
		out.PromptTokensDetails = &schema.PromptTokensDetails{CachedTokens: cached}
	}
	if thoughts > 0 {
		out.CompletionTokensDetails = &schema.CompletionTokensDetails{ReasoningTokens: thoughts}
	}
	return out
}

// googleCallID returns the vendor id or a stable synthetic one.
func googleCallID(fc gjson.Result, slot int) string {
	if id := fc.Get("id").String(); id != "" {
		return id
	}
	return fmt.Sprintf("call_%s_%d", fc.Get("name").String(), slot)
}

func googleArgs(fc gjson.Result) string {
	args := fc.Get("args")
	if !args.Exists() {
		return "{}"
	}
	return args.Raw
}

func (a *GoogleAdapter) ParseResponse(body []byte, req *Request) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode google response: invalid json")
	}
	result := gjson.ParseBytes(body)
	candidate := result.Get("candidates.0")

	var (
		text      strings.Builder
		toolCalls []schema.ToolCall
		reasoning []schema.Reasoning
	)
	for _, part := range candidate.Get("content.parts").Array() {
		switch {
		case part.Get("functionCall").Exists():
			fc := part.Get("functionCall")
			toolCalls = append(toolCalls, schema.ToolCall{
				ID:       googleCallID(fc, len(toolCalls)),
				Type:     "function",
				Function: schema.FunctionCall{Name: fc.Get("name").String(), Arguments: googleArgs(fc)},
			})
		case part.Get("thought").Bool():
			reasoning = append(reasoning, schema.Reasoning{ID: part.Get("thoughtSignature").String(), Content: part.Get("text").String()})
		case part.Get("text").Exists():
			text.WriteString(part.Get("text").String())
		}
	}
	msg := schema.ResponseMessage{Role: "assistant", ToolCalls: toolCalls, Reasoning: reasoning}
	if text.Len() > 0 || len(toolCalls) == 0 {
		msg.Content = schema.Str(text.String())
	}

	finish := googleFinishReason(candidate.Get("finishReason").String(), len(toolCalls) > 0)
	if !candidate.Exists() && result.Get("promptFeedback.blockReason").Exists() {
		finish = "content_filter"
	}
	if finish == "" {
		finish = "stop"
	}
	model := req.Model
	if v := result.Get("modelVersion").String(); v != "" {
		model = v
	}
	return json.Marshal(schema.NewCompletion(result.Get("responseId").String(), model, msg, finish, googleUsage(result.Get("usageMetadata"))))
}

// ParseStreamEvent folds every part of one GenerateContentResponse into a
// single chunk.
func (a *GoogleAdapter) ParseStreamEvent(ev sse.Event, state *schema.StreamState) (sse.ParseResult, error) {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return sse.ParseResult{}, nil
	}
	if !gjson.Valid(data) {
		return sse.ParseResult{}, fmt.Errorf("decode google event: invalid json")
	}
	result := gjson.Parse(data)
	if e := result.Get("error"); e.Exists() {
		return sse.ParseResult{}, fmt.Errorf("google stream error: %s", e.Get("message").String())
	}

	role := state.RoleOnce()
	var (
		delta   schema.Delta
		content strings.Builder
		emitted bool
	)
	candidate := result.Get("candidates.0")
	for _, part := range candidate.Get("content.parts").Array() {
		switch {
		case part.Get("functionCall").Exists():
			fc := part.Get("functionCall")
			delta.ToolCalls = append(delta.ToolCalls, state.AddToolCall(googleCallID(fc, len(state.ToolCalls)), fc.Get("name").String(), googleArgs(fc)))
			emitted = true
		case part.Get("thought").Bool():
			t := part.Get("text").String()
			state.AppendReasoning(t, false)
			if sig := part.Get("thoughtSignature").String(); sig != "" {
				state.SetReasoningSignature(sig)
			}
			if delta.Reasoning == nil {
				delta.Reasoning = &schema.Reasoning{}
			}
			delta.Reasoning.Content += t
			emitted = true
		case part.Get("text").Exists():
			t := part.Get("text").String()
			if t == "" {
				continue
			}
			state.AppendContent(t)
			content.WriteString(t)
			emitted = true
		}
	}
	if content.Len() > 0 {
		delta.Content = schema.Str(content.String())
	}
	if emitted {
		delta.Role = role
	}

	if u := googleUsage(result.Get("usageMetadata")); u != nil {
		state.Usage = u
	}
	finish := googleFinishReason(candidate.Get("finishReason").String(), len(state.ToolCalls) > 0)
	if !candidate.Exists() && result.Get("promptFeedback.blockReason").Exists() {
		finish = "content_filter"
	}
	if !emitted && finish == "" {
		return sse.ParseResult{}, nil
	}

	var chunk schema.ChatCompletionChunk
	if finish != "" {
		state.FinishReason = finish
		chunk = state.Chunk(delta, schema.Str(finish))
		chunk.Usage = state.Usage
	} else {
		chunk = state.Chunk(delta, nil)
	}
	return sse.ParseResult{Data: schema.MustJSON(chunk)}, nil
}
