package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"aiproxy-go/internal/credential"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func anthropicEvent(t *testing.T, state *schema.StreamState, data string) sse.ParseResult {
	t.Helper()
	res, err := parseAnthropicEvent(sse.Event{Event: gjson.Get(data, "type").String(), Data: data}, state)
	require.NoError(t, err)
	return res
}

func TestAnthropicStreamTrimsOnlyFirstTextDelta(t *testing.T) {
	state := schema.NewStreamState("claude-3-5-sonnet-latest")

	res := anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"  Hello"}}`)
	require.NotNil(t, res.Data)
	assert.Equal(t, "Hello", gjson.GetBytes(res.Data, "choices.0.delta.content").String())
	assert.Equal(t, "assistant", gjson.GetBytes(res.Data, "choices.0.delta.role").String())

	res = anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`)
	assert.Equal(t, " world", gjson.GetBytes(res.Data, "choices.0.delta.content").String())
	assert.False(t, gjson.GetBytes(res.Data, "choices.0.delta.role").Exists())
	assert.Equal(t, "Hello world", state.Content())
}

func TestAnthropicStreamSuppressesLeadingWhitespaceOnlyDelta(t *testing.T) {
	state := schema.NewStreamState("claude")

	res := anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"\n\n"}}`)
	assert.Nil(t, res.Data)
	assert.Equal(t, 0, state.ContentIndex)

	res = anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" Hi"}}`)
	assert.Equal(t, "Hi", gjson.GetBytes(res.Data, "choices.0.delta.content").String())
}

func TestAnthropicStreamToolCallAndFinish(t *testing.T) {
	state := schema.NewStreamState("claude")

	res := anthropicEvent(t, state, `{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12,"output_tokens":1}}}`)
	assert.Nil(t, res.Data)

	res = anthropicEvent(t, state, `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}`)
	require.NotNil(t, res.Data)
	assert.Equal(t, "toolu_1", gjson.GetBytes(res.Data, "choices.0.delta.tool_calls.0.id").String())
	assert.Equal(t, "get_weather", gjson.GetBytes(res.Data, "choices.0.delta.tool_calls.0.function.name").String())

	res = anthropicEvent(t, state, `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`)
	assert.Equal(t, int64(0), gjson.GetBytes(res.Data, "choices.0.delta.tool_calls.0.index").Int())
	anthropicEvent(t, state, `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}`)
	assert.Equal(t, `{"city":"Paris"}`, state.ToolCalls[0].Function.Arguments)

	assert.Nil(t, anthropicEvent(t, state, `{"type":"content_block_stop","index":1}`).Data)
	assert.Nil(t, anthropicEvent(t, state, `{"type":"ping"}`).Data)

	res = anthropicEvent(t, state, `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":20}}`)
	assert.Equal(t, "tool_calls", gjson.GetBytes(res.Data, "choices.0.finish_reason").String())
	assert.Equal(t, int64(12), gjson.GetBytes(res.Data, "usage.prompt_tokens").Int())
	assert.Equal(t, int64(32), gjson.GetBytes(res.Data, "usage.total_tokens").Int())

	res = anthropicEvent(t, state, `{"type":"message_stop"}`)
	assert.True(t, res.Finished)
	assert.Nil(t, res.Data)
}

func TestAnthropicStreamThinkingSegments(t *testing.T) {
	state := schema.NewStreamState("claude")
	anthropicEvent(t, state, `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`)
	anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Let me"}}`)
	anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":" see"}}`)
	res := anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-1"}}`)
	assert.Nil(t, res.Data)

	require.Len(t, state.Reasoning, 1)
	assert.Equal(t, "Let me see", state.Reasoning[0].Content)
	assert.Equal(t, "sig-1", state.Reasoning[0].ID)
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	state := schema.NewStreamState("claude")
	_, err := parseAnthropicEvent(sse.Event{Event: "error", Data: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`}, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestAnthropicStreamBedrockInvocationMetrics(t *testing.T) {
	state := schema.NewStreamState("anthropic.claude-3-haiku-20240307-v1:0")
	res := anthropicEvent(t, state, `{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":7,"outputTokenCount":3}}`)
	assert.True(t, res.Finished)
	require.NotNil(t, res.Data)
	assert.Equal(t, int64(10), gjson.GetBytes(res.Data, "usage.total_tokens").Int())
	assert.Equal(t, int64(0), gjson.GetBytes(res.Data, "choices.#").Int())
}

func TestAnthropicJSONToolStreamsAsContent(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet-latest","stream":true,"messages":[{"role":"user","content":"hi"}],
		"response_format":{"type":"json_schema","json_schema":{"name":"out","schema":{"type":"object","properties":{"a":{"type":"number"}}}}}}`)
	req := &Request{Endpoint: "chat/completions", Model: "claude-3-5-sonnet-latest", Body: body, Stream: true}
	a := NewAnthropicAdapter()

	state := schema.NewStreamState(req.Model)
	a.InitState(req, state)
	require.True(t, state.StructuredViaTool)

	assert.Nil(t, anthropicEvent(t, state, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t","name":"json","input":{}}}`).Data)
	res := anthropicEvent(t, state, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"a\":1}"}}`)
	assert.Equal(t, `{"a":1}`, gjson.GetBytes(res.Data, "choices.0.delta.content").String())
	assert.Empty(t, state.ToolCalls)

	res = anthropicEvent(t, state, `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`)
	assert.Equal(t, "stop", gjson.GetBytes(res.Data, "choices.0.finish_reason").String())
}

func TestAnthropicBuildRequestDirect(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet-latest","messages":[
		{"role":"system","content":"be brief"},
		{"role":"developer","content":"use metric"},
		{"role":"user","content":"hi"},
		{"role":"user","content":[{"type":"text","text":"there"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]}
	],"temperature":0.2,"stop":"END","tools":[{"type":"function","function":{"name":"f","parameters":{"type":"object"}}}],"tool_choice":"required"}`)
	req := &Request{Endpoint: "chat/completions", Model: "claude-3-5-sonnet-latest", Body: body,
		Header: http.Header{"Anthropic-Beta": []string{"tools-2024"}}}
	secret := &credential.APISecret{Type: credential.TypeAnthropic, Secret: "sk-ant"}

	hreq, err := NewAnthropicAdapter().BuildRequest(context.Background(), req, secret)
	require.NoError(t, err)
	assert.Equal(t, "https://api.anthropic.com/v1/messages", hreq.URL.String())
	assert.Equal(t, "sk-ant", hreq.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", hreq.Header.Get("anthropic-version"))
	assert.Equal(t, "tools-2024", hreq.Header.Get("anthropic-beta"))

	raw, err := io.ReadAll(hreq.Body)
	require.NoError(t, err)
	out := gjson.ParseBytes(raw)
	assert.Equal(t, "be brief\nuse metric", out.Get("system").String())
	assert.Equal(t, int64(1), out.Get("messages.#").Int())
	assert.Equal(t, int64(3), out.Get("messages.0.content.#").Int())
	assert.Equal(t, "base64", out.Get("messages.0.content.2.source.type").String())
	assert.Equal(t, "image/png", out.Get("messages.0.content.2.source.media_type").String())
	assert.Equal(t, int64(4096), out.Get("max_tokens").Int())
	assert.Equal(t, "END", out.Get("stop_sequences.0").String())
	assert.Equal(t, "any", out.Get("tool_choice.type").String())
	assert.Equal(t, "f", out.Get("tools.0.name").String())
}

func TestAnthropicBuildRequestNativeKeepsBody(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet-latest","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)
	req := &Request{Endpoint: "anthropic/messages", Model: "claude-3-5-sonnet-latest", Body: body, Native: NativeAnthropic}
	hreq, err := NewAnthropicAdapter().BuildRequest(context.Background(), req, &credential.APISecret{Secret: "k"})
	require.NoError(t, err)
	raw, _ := io.ReadAll(hreq.Body)
	assert.JSONEq(t, string(body), string(raw))
}

func TestAnthropicToolResultAndReasoningEffort(t *testing.T) {
	body := []byte(`{"model":"claude","reasoning_effort":"medium","temperature":1,"messages":[
		{"role":"user","content":"weather?"},
		{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"w","arguments":"{\"c\":1}"}}]},
		{"role":"tool","tool_call_id":"c1","content":"sunny"}
	]}`)
	ar, err := toAnthropic(body)
	require.NoError(t, err)
	require.Len(t, ar.Messages, 3)
	assert.Equal(t, "tool_use", ar.Messages[1].Content[0].Type)
	assert.JSONEq(t, `{"c":1}`, string(ar.Messages[1].Content[0].Input))
	assert.Equal(t, "tool_result", ar.Messages[2].Content[0].Type)
	assert.Equal(t, "c1", ar.Messages[2].Content[0].ToolUseID)
	require.NotNil(t, ar.Thinking)
	assert.Equal(t, 4096, ar.Thinking.BudgetTokens)
	assert.Nil(t, ar.Temperature)
	assert.Greater(t, ar.MaxTokens, ar.Thinking.BudgetTokens)
}

func TestAnthropicParseResponse(t *testing.T) {
	resp := []byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",
		"content":[{"type":"thinking","thinking":"hmm","signature":"s"},{"type":"text","text":"Hi"},{"type":"tool_use","id":"t1","name":"f","input":{"x":1}}],
		"stop_reason":"tool_use","usage":{"input_tokens":10,"output_tokens":4,"cache_read_input_tokens":2}}`)
	req := &Request{Endpoint: "chat/completions", Model: "claude-3-5-sonnet-latest", Body: []byte(`{"messages":[]}`)}
	out, err := NewAnthropicAdapter().ParseResponse(resp, req)
	require.NoError(t, err)

	var c schema.ChatCompletion
	require.NoError(t, json.Unmarshal(out, &c))
	assert.Equal(t, "chat.completion", c.Object)
	require.Len(t, c.Choices, 1)
	assert.Equal(t, "Hi", *c.Choices[0].Message.Content)
	assert.Equal(t, "tool_calls", c.Choices[0].FinishReason)
	require.Len(t, c.Choices[0].Message.ToolCalls, 1)
	assert.JSONEq(t, `{"x":1}`, c.Choices[0].Message.ToolCalls[0].Function.Arguments)
	require.Len(t, c.Choices[0].Message.Reasoning, 1)
	assert.Equal(t, "s", c.Choices[0].Message.Reasoning[0].ID)
	assert.Equal(t, 12, c.Usage.PromptTokens)
	assert.Equal(t, 16, c.Usage.TotalTokens)
}

func TestVertexAnthropicRequest(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet-latest","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	req := &Request{Endpoint: "chat/completions", Model: "claude-3-5-sonnet-latest", Body: body, Stream: true}
	secret := &credential.APISecret{Type: credential.TypeVertex, Secret: "ya29.token",
		Metadata: credential.Metadata{Project: "proj", Region: "us-east5"}}

	hreq, err := NewVertexAnthropicAdapter(NewTokenCache(nil, nil)).BuildRequest(context.Background(), req, secret)
	require.NoError(t, err)
	assert.Equal(t, "https://us-east5-aiplatform.googleapis.com/v1/projects/proj/locations/us-east5/publishers/anthropic/models/claude-3-5-sonnet-latest:streamRawPredict", hreq.URL.String())
	assert.Equal(t, "Bearer ya29.token", hreq.Header.Get("Authorization"))
	raw, _ := io.ReadAll(hreq.Body)
	assert.Equal(t, "vertex-2023-10-16", gjson.GetBytes(raw, "anthropic_version").String())
	assert.False(t, gjson.GetBytes(raw, "model").Exists())
}

func TestVertexGlobalRegionHost(t *testing.T) {
	base := vertexBase(credential.Metadata{Project: "p", Region: "global"})
	assert.Equal(t, "https://aiplatform.googleapis.com/v1/projects/p/locations/global", base)
}
