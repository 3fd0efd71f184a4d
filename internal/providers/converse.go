package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aiproxy-go/internal/credential"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

type converseRequest struct {
	Messages        []converseMessage `json:"messages"`
	System          []converseBlock   `json:"system,omitempty"`
	InferenceConfig *converseInfer    `json:"inferenceConfig,omitempty"`
	ToolConfig      *converseTools    `json:"toolConfig,omitempty"`
}

type converseMessage struct {
	Role    string          `json:"role"`
	Content []converseBlock `json:"content"`
}

type converseBlock struct {
	Text             *string                `json:"text,omitempty"`
	Image            *converseImage         `json:"image,omitempty"`
	ToolUse          *converseToolUse       `json:"toolUse,omitempty"`
	ToolResult       *converseToolResult    `json:"toolResult,omitempty"`
	ReasoningContent *converseReasoningBody `json:"reasoningContent,omitempty"`
}

type converseImage struct {
	Format string `json:"format"`
	Source struct {
		Bytes string `json:"bytes"`
	} `json:"source"`
}

type converseToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

type converseToolResult struct {
	ToolUseID string          `json:"toolUseId"`
	Content   []converseBlock `json:"content"`
}

type converseReasoningBody struct {
	ReasoningText *struct {
		Text      string `json:"text"`
		Signature string `json:"signature,omitempty"`
	} `json:"reasoningText,omitempty"`
}

type converseInfer struct {
	MaxTokens     *int     `json:"maxTokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

type converseTools struct {
	Tools      []converseTool  `json:"tools"`
	ToolChoice json.RawMessage `json:"toolChoice,omitempty"`
}

type converseTool struct {
	ToolSpec struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		InputSchema struct {
			JSON json.RawMessage `json:"json"`
		} `json:"inputSchema"`
	} `json:"toolSpec"`
}

type converseUsage struct {
	InputTokens           int `json:"inputTokens"`
	OutputTokens          int `json:"outputTokens"`
	TotalTokens           int `json:"totalTokens"`
	CacheReadInputTokens  int `json:"cacheReadInputTokens"`
	CacheWriteInputTokens int `json:"cacheWriteInputTokens"`
}

type converseResponse struct {
	Output struct {
		Message converseMessage `json:"message"`
	} `json:"output"`
	StopReason string         `json:"stopReason"`
	Usage      *converseUsage `json:"usage"`
}

// ConverseAdapter serves non-Anthropic Bedrock models through the unified
// Converse API.
type ConverseAdapter struct {
	now func() time.Time
}

// NewConverseAdapter returns the Bedrock Converse adapter.
func NewConverseAdapter() *ConverseAdapter {
	return &ConverseAdapter{now: time.Now}
}

func (a *ConverseAdapter) Name() string { return "bedrock-converse" }

func (a *ConverseAdapter) BuildRequest(ctx context.Context, req *Request, secret *credential.APISecret) (*http.Request, error) {
	if req.Native != NativeNone {
		return nil, apperrors.BadRequest("bedrock converse does not accept " + string(req.Native) + " requests")
	}
	if !req.IsChat() {
		return nil, unsupportedEndpoint("bedrock", req.Endpoint)
	}
	cr, err := toConverse(req.Body)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, err
	}
	action := "converse"
	if req.Stream {
		action = "converse-stream"
	}
	target, err := bedrockModelURL(secret.Metadata, req.Model, action)
	if err != nil {
		return nil, err
	}
	hreq, err := newJSONRequest(ctx, target, body)
	if err != nil {
		return nil, err
	}
	applyAdditionalHeaders(hreq, secret)
	if err := signBedrock(ctx, hreq, body, secret, a.now()); err != nil {
		return nil, err
	}
	return hreq, nil
}

func toConverse(body []byte) (*converseRequest, error) {
	var in schema.ChatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, apperrors.BadRequest("invalid request body: " + err.Error())
	}
	out := &converseRequest{}
	appendTurn := func(role string, blocks ...converseBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content = append(out.Messages[n-1].Content, blocks...)
			return
		}
		out.Messages = append(out.Messages, converseMessage{Role: role, Content: blocks})
	}

	for _, m := range in.Messages {
		switch m.Role {
		case "system", "developer":
			if t := m.Text(); t != "" {
				out.System = append(out.System, converseBlock{Text: schema.Str(t)})
			}
		case "user":
			appendTurn("user", converseUserBlocks(m)...)
		case "assistant":
			var blocks []converseBlock
			if t := m.Text(); t != "" {
				blocks = append(blocks, converseBlock{Text: schema.Str(t)})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, converseBlock{ToolUse: &converseToolUse{ToolUseID: tc.ID, Name: tc.Function.Name, Input: input}})
			}
			appendTurn("assistant", blocks...)
		case "tool":
			appendTurn("user", converseBlock{ToolResult: &converseToolResult{
				ToolUseID: m.ToolCallID,
				Content:   []converseBlock{{Text: schema.Str(m.Text())}},
			}})
		default:
			return nil, apperrors.BadRequest(fmt.Sprintf("unsupported message role %q", m.Role))
		}
	}

	infer := &converseInfer{Temperature: in.Temperature, TopP: in.TopP, StopSequences: stopSequences(in.Stop)}
	switch {
	case in.MaxCompletion != nil:
		infer.MaxTokens = in.MaxCompletion
	case in.MaxTokens != nil:
		infer.MaxTokens = in.MaxTokens
	}
	if infer.MaxTokens != nil || infer.Temperature != nil || infer.TopP != nil || len(infer.StopSequences) > 0 {
		out.InferenceConfig = infer
	}

	if len(in.Tools) > 0 {
		tc := &converseTools{}
		for _, t := range in.Tools {
			var ct converseTool
			ct.ToolSpec.Name = t.Function.Name
			ct.ToolSpec.Description = t.Function.Description
			ct.ToolSpec.InputSchema.JSON = t.Function.Parameters
			if len(ct.ToolSpec.InputSchema.JSON) == 0 {
				ct.ToolSpec.InputSchema.JSON = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			tc.Tools = append(tc.Tools, ct)
		}
		choice := anthropicToolChoice(in.ToolChoice)
		if choice != nil {
			switch choice.Type {
			case "any":
				tc.ToolChoice = json.RawMessage(`{"any":{}}`)
			case "tool":
				tc.ToolChoice, _ = json.Marshal(map[string]interface{}{"tool": map[string]string{"name": choice.Name}})
			case "auto":
				tc.ToolChoice = json.RawMessage(`{"auto":{}}`)
			}
		}
		// "none" has no Converse equivalent; the tools are withheld instead
		if choice == nil || choice.Type != "none" {
			out.ToolConfig = tc
		}
	}
	return out, nil
}

func converseUserBlocks(m schema.Message) []converseBlock {
	var blocks []converseBlock
	for _, p := range m.Parts() {
		switch p.Type {
		case "text":
			if p.Text == "" {
				continue
			}
			blocks = append(blocks, converseBlock{Text: schema.Str(p.Text)})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mediaType, data, ok := parseDataURL(p.ImageURL.URL)
			if !ok {
				continue
			}
			img := &converseImage{Format: strings.TrimPrefix(mediaType, "image/")}
			img.Source.Bytes = data
			blocks = append(blocks, converseBlock{Image: img})
		}
	}
	return blocks
}

func converseFinishReason(stop string) string {
	switch stop {
	case "tool_use":
		return "tool_calls"
	case "max_tokens", "model_context_window_exceeded":
		return "length"
	case "content_filtered", "guardrail_intervened":
		return "content_filter"
	}
	return "stop"
}

func converseUsageToCanonical(u *converseUsage) *schema.Usage {
	if u == nil {
		return nil
	}
	out := &schema.Usage{
		PromptTokens:     u.InputTokens + u.CacheReadInputTokens + u.CacheWriteInputTokens,
		CompletionTokens: u.OutputTokens,
	}
	out.TotalTokens = out.PromptTokens + out.CompletionTokens
	if u.CacheReadInputTokens > 0 || u.CacheWriteInputTokens > 0 {
		out.PromptTokensDetails = &schema.PromptTokensDetails{
			CachedTokens:        u.CacheReadInputTokens,
			CacheCreationTokens: u.CacheWriteInputTokens,
		}
	}
	return out
}

func (a *ConverseAdapter) ParseResponse(body []byte, req *Request) ([]byte, error) {
	var resp converseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode converse response: %w", err)
	}
	var (
		text      strings.Builder
		toolCalls []schema.ToolCall
		reasoning []schema.Reasoning
	)
	for _, b := range resp.Output.Message.Content {
		switch {
		case b.Text != nil:
			text.WriteString(*b.Text)
		case b.ToolUse != nil:
			args := string(b.ToolUse.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, schema.ToolCall{ID: b.ToolUse.ToolUseID, Type: "function", Function: schema.FunctionCall{Name: b.ToolUse.Name, Arguments: args}})
		case b.ReasoningContent != nil && b.ReasoningContent.ReasoningText != nil:
			rt := b.ReasoningContent.ReasoningText
			reasoning = append(reasoning, schema.Reasoning{ID: rt.Signature, Content: rt.Text})
		}
	}
	msg := schema.ResponseMessage{Role: "assistant", ToolCalls: toolCalls, Reasoning: reasoning}
	if text.Len() > 0 || len(toolCalls) == 0 {
		msg.Content = schema.Str(text.String())
	}
	return json.Marshal(schema.NewCompletion("", req.Model, msg, converseFinishReason(resp.StopReason), converseUsageToCanonical(resp.Usage)))
}

// converseEvent is the stream union; exactly one member is set.
type converseEvent struct {
	MessageStart *struct {
		Role string `json:"role"`
	} `json:"messageStart"`
	ContentBlockStart *struct {
		ContentBlockIndex int `json:"contentBlockIndex"`
		Start             struct {
			ToolUse *struct {
				ToolUseID string `json:"toolUseId"`
				Name      string `json:"name"`
			} `json:"toolUse"`
		} `json:"start"`
	} `json:"contentBlockStart"`
	ContentBlockDelta *struct {
		ContentBlockIndex int `json:"contentBlockIndex"`
		Delta             struct {
			Text    *string `json:"text"`
			ToolUse *struct {
				Input string `json:"input"`
			} `json:"toolUse"`
			ReasoningContent *struct {
				Text      *string `json:"text"`
				Signature string  `json:"signature"`
			} `json:"reasoningContent"`
		} `json:"delta"`
	} `json:"contentBlockDelta"`
	ContentBlockStop *struct {
		ContentBlockIndex int `json:"contentBlockIndex"`
	} `json:"contentBlockStop"`
	MessageStop *struct {
		StopReason string `json:"stopReason"`
	} `json:"messageStop"`
	Metadata *struct {
		Usage *converseUsage `json:"usage"`
	} `json:"metadata"`
}

func (e *converseEvent) members() int {
	n := 0
	for _, set := range []bool{
		e.MessageStart != nil, e.ContentBlockStart != nil, e.ContentBlockDelta != nil,
		e.ContentBlockStop != nil, e.MessageStop != nil, e.Metadata != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (a *ConverseAdapter) ParseStreamEvent(ev sse.Event, state *schema.StreamState) (sse.ParseResult, error) {
	var e converseEvent
	if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
		return sse.ParseResult{}, fmt.Errorf("decode converse event: %w", err)
	}
	if n := e.members(); n != 1 {
		return sse.ParseResult{}, fmt.Errorf("converse event has %d members, want exactly one", n)
	}

	switch {
	case e.MessageStart != nil:
		if e.MessageStart.Role != "" {
			state.Role = e.MessageStart.Role
		}
	case e.ContentBlockStart != nil:
		if tu := e.ContentBlockStart.Start.ToolUse; tu != nil {
			slot, chunk := state.StartToolCall(tu.ToolUseID, tu.Name)
			state.Blocks[e.ContentBlockStart.ContentBlockIndex] = schema.Block{Kind: "tool_use", ToolSlot: slot}
			return sse.ParseResult{Data: schema.MustJSON(chunk)}, nil
		}
	case e.ContentBlockDelta != nil:
		idx := e.ContentBlockDelta.ContentBlockIndex
		d := e.ContentBlockDelta.Delta
		switch {
		case d.Text != nil:
			if *d.Text == "" {
				return sse.ParseResult{}, nil
			}
			return sse.ParseResult{Data: schema.MustJSON(state.ContentChunk(*d.Text))}, nil
		case d.ToolUse != nil:
			block, ok := state.Blocks[idx]
			if !ok || block.Kind != "tool_use" {
				return sse.ParseResult{}, fmt.Errorf("converse tool delta for unopened block %d", idx)
			}
			return sse.ParseResult{Data: schema.MustJSON(state.ToolArgsChunk(block.ToolSlot, d.ToolUse.Input))}, nil
		case d.ReasoningContent != nil:
			block := state.Blocks[idx]
			if d.ReasoningContent.Signature != "" {
				state.SetReasoningSignature(d.ReasoningContent.Signature)
			}
			if d.ReasoningContent.Text == nil {
				return sse.ParseResult{}, nil
			}
			newSegment := !block.Started
			state.Blocks[idx] = schema.Block{Kind: "thinking", Started: true}
			return sse.ParseResult{Data: schema.MustJSON(state.ReasoningChunk(*d.ReasoningContent.Text, newSegment))}, nil
		}
	case e.MessageStop != nil:
		state.FinishReason = converseFinishReason(e.MessageStop.StopReason)
		return sse.ParseResult{Data: schema.MustJSON(state.Chunk(schema.Delta{}, schema.Str(state.FinishReason)))}, nil
	case e.Metadata != nil:
		if u := converseUsageToCanonical(e.Metadata.Usage); u != nil {
			state.Usage = u
			return sse.ParseResult{Data: schema.MustJSON(state.UsageChunk()), Finished: true}, nil
		}
		return sse.ParseResult{Finished: true}, nil
	}
	return sse.ParseResult{}, nil
}

// EventSource decodes converse-stream frames. Each frame's payload is the
// union member named by :event-type, so it is re-wrapped under that key.
func (a *ConverseAdapter) EventSource(body io.ReadCloser) sse.Source {
	return &eventStreamSource{body: body, dec: eventstream.NewDecoder(), unwrap: wrapConverseEvent}
}

func wrapConverseEvent(eventType string, payload []byte) (sse.Event, error) {
	if eventType == "" {
		return sse.Event{}, errSkipEvent
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{eventType: json.RawMessage(payload)})
	if err != nil {
		return sse.Event{}, fmt.Errorf("wrap converse %s event: %w", eventType, err)
	}
	return sse.Event{Event: eventType, Data: string(wrapped)}, nil
}
