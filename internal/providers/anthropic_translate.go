package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/models"
	"aiproxy-go/internal/schema"
)

const (
	anthropicDefaultMaxTokens = 4096
	// jsonToolName is the synthetic forced tool used to emulate structured output.
	jsonToolName        = "json"
	jsonToolDescription = "Output the result in JSON format"
)

var thinkingBudgets = map[string]int{
	"minimal": 1024,
	"low":     1024,
	"medium":  4096,
	"high":    16384,
}

// usesJSONTool reports whether structured output must be emulated with the
// forced `json` tool for this request.
func usesJSONTool(body []byte, model string, native bool) bool {
	if native {
		return false
	}
	var peek struct {
		ResponseFormat *schema.ResponseFormat `json:"response_format"`
	}
	if json.Unmarshal(body, &peek) != nil || peek.ResponseFormat == nil {
		return false
	}
	switch peek.ResponseFormat.Type {
	case "json_schema", "json_object":
	default:
		return false
	}
	spec, _ := models.Lookup(model)
	return !spec.StructuredOutput
}

// toAnthropic translates a canonical chat request.
func toAnthropic(body []byte) (*anthropicRequest, error) {
	var in schema.ChatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, apperrors.BadRequest("invalid request body: " + err.Error())
	}
	out := &anthropicRequest{
		Model:       in.Model,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
		MaxTokens:   anthropicDefaultMaxTokens,
	}
	switch {
	case in.MaxCompletion != nil:
		out.MaxTokens = *in.MaxCompletion
	case in.MaxTokens != nil:
		out.MaxTokens = *in.MaxTokens
	}
	out.StopSequences = stopSequences(in.Stop)

	var system []string
	for _, m := range in.Messages {
		switch m.Role {
		case "system", "developer":
			if t := m.Text(); t != "" {
				system = append(system, t)
			}
		case "user":
			out.appendBlocks("user", userBlocks(m)...)
		case "assistant":
			out.appendBlocks("assistant", assistantBlocks(m)...)
		case "tool":
			out.appendBlocks("user", anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Text()})
		default:
			return nil, apperrors.BadRequest(fmt.Sprintf("unsupported message role %q", m.Role))
		}
	}
	out.System = strings.Join(system, "\n")

	for _, t := range in.Tools {
		params := t.Function.Parameters
		if len(params) == 0 || string(params) == "null" {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, anthropicTool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: params})
	}
	out.ToolChoice = anthropicToolChoice(in.ToolChoice)
	if in.ParallelToolCall != nil && !*in.ParallelToolCall && len(out.Tools) > 0 {
		if out.ToolChoice == nil {
			out.ToolChoice = &anthropicChoice{Type: "auto"}
		}
		out.ToolChoice.DisableParallelToolUse = true
	}

	if budget, ok := thinkingBudgets[strings.ToLower(in.ReasoningEffort)]; ok {
		out.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		if out.MaxTokens <= budget {
			out.MaxTokens = budget + anthropicDefaultMaxTokens
		}
		// sampling parameters are rejected while thinking is enabled
		out.Temperature = nil
		out.TopP = nil
	}
	return out, nil
}

// applyJSONTool forces the synthetic tool carrying the requested schema.
func applyJSONTool(out *anthropicRequest, body []byte) {
	var peek struct {
		ResponseFormat schema.ResponseFormat `json:"response_format"`
	}
	_ = json.Unmarshal(body, &peek)
	params := json.RawMessage(`{"type":"object"}`)
	if js := peek.ResponseFormat.JSONSchema; js != nil && len(js.Schema) > 0 {
		params = js.Schema
	}
	out.Tools = append(out.Tools, anthropicTool{Name: jsonToolName, Description: jsonToolDescription, InputSchema: params})
	out.ToolChoice = &anthropicChoice{Type: "tool", Name: jsonToolName}
}

// appendBlocks merges consecutive same-role turns, which Anthropic rejects.
func (r *anthropicRequest) appendBlocks(role string, blocks ...anthropicBlock) {
	if len(blocks) == 0 {
		return
	}
	if n := len(r.Messages); n > 0 && r.Messages[n-1].Role == role {
		r.Messages[n-1].Content = append(r.Messages[n-1].Content, blocks...)
		return
	}
	r.Messages = append(r.Messages, anthropicMessage{Role: role, Content: blocks})
}

func userBlocks(m schema.Message) []anthropicBlock {
	var blocks []anthropicBlock
	for _, p := range m.Parts() {
		switch p.Type {
		case "text":
			if p.Text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			blocks = append(blocks, anthropicBlock{Type: "image", Source: imageSource(p.ImageURL.URL)})
		}
	}
	return blocks
}

func imageSource(u string) *anthropicImageSource {
	if mediaType, data, ok := parseDataURL(u); ok {
		return &anthropicImageSource{Type: "base64", MediaType: mediaType, Data: data}
	}
	return &anthropicImageSource{Type: "url", URL: u}
}

// parseDataURL splits data:<mime>;base64,<payload>.
func parseDataURL(u string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(u, "data:") {
		return "", "", false
	}
	head, payload, found := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !found || !strings.HasSuffix(head, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(head, ";base64"), payload, true
}

func assistantBlocks(m schema.Message) []anthropicBlock {
	var blocks []anthropicBlock
	for _, r := range m.Reasoning {
		blocks = append(blocks, anthropicBlock{Type: "thinking", Thinking: r.Content, Signature: r.ID})
	}
	if t := m.Text(); t != "" {
		blocks = append(blocks, anthropicBlock{Type: "text", Text: t})
	}
	for _, tc := range m.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	return blocks
}

func anthropicToolChoice(raw json.RawMessage) *anthropicChoice {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch s {
		case "auto":
			return &anthropicChoice{Type: "auto"}
		case "required":
			return &anthropicChoice{Type: "any"}
		case "none":
			return &anthropicChoice{Type: "none"}
		}
		return nil
	}
	var obj struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Function.Name != "" {
		return &anthropicChoice{Type: "tool", Name: obj.Function.Name}
	}
	return nil
}

func stopSequences(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if json.Unmarshal(raw, &one) == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	_ = json.Unmarshal(raw, &many)
	return many
}

func anthropicFinishReason(stop string, jsonTool bool) string {
	switch stop {
	case "end_turn", "stop_sequence", "pause_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		if jsonTool {
			return "stop"
		}
		return "tool_calls"
	case "refusal":
		return "content_filter"
	case "":
		return "stop"
	}
	return "stop"
}

func anthropicUsageToCanonical(u anthropicUsage) *schema.Usage {
	prompt := u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	out := &schema.Usage{
		PromptTokens:     prompt,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      prompt + u.OutputTokens,
	}
	if u.CacheReadInputTokens > 0 || u.CacheCreationInputTokens > 0 {
		out.PromptTokensDetails = &schema.PromptTokensDetails{
			CachedTokens:        u.CacheReadInputTokens,
			CacheCreationTokens: u.CacheCreationInputTokens,
		}
	}
	return out
}

// fromAnthropic converts a complete Anthropic message to a canonical completion.
func fromAnthropic(body []byte, model string, jsonTool bool) ([]byte, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	var (
		text      strings.Builder
		toolCalls []schema.ToolCall
		reasoning []schema.Reasoning
	)
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			if jsonTool && b.Name == jsonToolName {
				text.WriteString(args)
				continue
			}
			toolCalls = append(toolCalls, schema.ToolCall{ID: b.ID, Type: "function", Function: schema.FunctionCall{Name: b.Name, Arguments: args}})
		case "thinking":
			reasoning = append(reasoning, schema.Reasoning{ID: b.Signature, Content: b.Thinking})
		}
	}
	msg := schema.ResponseMessage{Role: "assistant", ToolCalls: toolCalls, Reasoning: reasoning}
	if text.Len() > 0 || len(toolCalls) == 0 {
		msg.Content = schema.Str(text.String())
	}
	if resp.Model != "" {
		model = resp.Model
	}
	usage := anthropicUsageToCanonical(resp.Usage)
	return json.Marshal(schema.NewCompletion(resp.ID, model, msg, anthropicFinishReason(resp.StopReason, jsonTool), usage))
}
