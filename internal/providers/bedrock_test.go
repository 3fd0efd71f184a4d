package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"aiproxy-go/internal/credential"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func bedrockSecret() *credential.APISecret {
	return &credential.APISecret{
		Type:     credential.TypeBedrock,
		Secret:   "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
		Metadata: credential.Metadata{AccessKey: "AKIDEXAMPLE", Region: "us-west-2"},
	}
}

type frame struct {
	headers map[string]string
	payload string
}

func encodeFrames(t *testing.T, frames ...frame) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	enc := eventstream.NewEncoder()
	for _, f := range frames {
		var msg eventstream.Message
		for k, v := range f.headers {
			msg.Headers.Set(k, eventstream.StringValue(v))
		}
		msg.Payload = []byte(f.payload)
		require.NoError(t, enc.Encode(&buf, msg))
	}
	return io.NopCloser(&buf)
}

func invokeChunk(event string) frame {
	payload, _ := json.Marshal(map[string]string{"bytes": base64.StdEncoding.EncodeToString([]byte(event))})
	return frame{
		headers: map[string]string{":message-type": "event", ":event-type": "chunk"},
		payload: string(payload),
	}
}

func TestBedrockAnthropicBuildRequestSigns(t *testing.T) {
	a := NewBedrockAnthropicAdapter()
	a.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	req := &Request{Endpoint: "chat/completions", Model: "anthropic.claude-3-haiku-20240307-v1:0", Stream: true,
		Body: []byte(`{"model":"anthropic.claude-3-haiku-20240307-v1:0","stream":true,"messages":[{"role":"user","content":"hi"}]}`)}

	hreq, err := a.BuildRequest(context.Background(), req, bedrockSecret())
	require.NoError(t, err)
	assert.Equal(t, "bedrock-runtime.us-west-2.amazonaws.com", hreq.URL.Host)
	assert.True(t, strings.HasSuffix(hreq.URL.Path, "/invoke-with-response-stream"))
	assert.Contains(t, hreq.URL.EscapedPath(), "anthropic.claude-3-haiku-20240307-v1%3A0")

	auth := hreq.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/us-west-2/bedrock/aws4_request"), auth)
	assert.Equal(t, "20240102T030405Z", hreq.Header.Get("X-Amz-Date"))

	raw, err := io.ReadAll(hreq.Body)
	require.NoError(t, err)
	assert.Equal(t, "bedrock-2023-05-31", gjson.GetBytes(raw, "anthropic_version").String())
	assert.False(t, gjson.GetBytes(raw, "model").Exists())
	assert.False(t, gjson.GetBytes(raw, "stream").Exists())
}

func TestBedrockRequiresAccessKey(t *testing.T) {
	secret := bedrockSecret()
	secret.Metadata.AccessKey = ""
	req := &Request{Endpoint: "chat/completions", Model: "amazon.nova-pro-v1:0", Body: []byte(`{"messages":[{"role":"user","content":"hi"}]}`)}
	_, err := NewConverseAdapter().BuildRequest(context.Background(), req, secret)
	require.Error(t, err)
}

func TestBedrockAnthropicStreamThroughNormalize(t *testing.T) {
	body := encodeFrames(t,
		invokeChunk(`{"type":"message_start","message":{"id":"m","usage":{"input_tokens":3,"output_tokens":0}}}`),
		invokeChunk(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`),
		invokeChunk(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`),
		invokeChunk(`{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":3,"outputTokenCount":1}}`),
	)
	resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: body}
	req := &Request{Endpoint: "chat/completions", Model: "anthropic.claude-3-haiku-20240307-v1:0", Stream: true, Body: []byte(`{}`)}

	out, err := Normalize(context.Background(), NewBedrockAnthropicAdapter(), req, resp)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", out.Header.Get("Content-Type"))
	raw, err := io.ReadAll(out.Body)
	require.NoError(t, err)

	frames := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	require.Len(t, frames, 4)
	assert.Equal(t, "Hi", gjson.Get(strings.TrimPrefix(frames[0], "data: "), "choices.0.delta.content").String())
	assert.Equal(t, "stop", gjson.Get(strings.TrimPrefix(frames[1], "data: "), "choices.0.finish_reason").String())
	assert.Equal(t, int64(4), gjson.Get(strings.TrimPrefix(frames[2], "data: "), "usage.total_tokens").Int())
	assert.Equal(t, "data: [DONE]", frames[3])
}

func TestBedrockNativeStreamKeepsAnthropicEvents(t *testing.T) {
	body := encodeFrames(t,
		invokeChunk(`{"type":"message_start","message":{"id":"m"}}`),
		invokeChunk(`{"type":"message_stop"}`),
	)
	resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: body}
	req := &Request{Endpoint: "anthropic/messages", Model: "anthropic.claude-3-haiku-20240307-v1:0", Stream: true, Native: NativeAnthropic}

	out, err := Normalize(context.Background(), NewBedrockAnthropicAdapter(), req, resp)
	require.NoError(t, err)
	raw, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t,
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m\"}}\n\n"+
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		string(raw))
}

func TestBedrockExceptionFrameBecomesErrorFrame(t *testing.T) {
	body := encodeFrames(t,
		invokeChunk(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a"}}`),
		frame{
			headers: map[string]string{":message-type": "exception", ":exception-type": "throttlingException"},
			payload: `{"message":"slow down"}`,
		},
	)
	resp := &http.Response{StatusCode: 200, Header: http.Header{}, Body: body}
	req := &Request{Endpoint: "chat/completions", Model: "anthropic.claude-3-haiku-20240307-v1:0", Stream: true, Body: []byte(`{}`)}

	out, err := Normalize(context.Background(), NewBedrockAnthropicAdapter(), req, resp)
	require.NoError(t, err)
	raw, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "throttlingException")
	assert.True(t, strings.HasSuffix(string(raw), "data: [DONE]\n\n"))
}

func TestConverseEventDispatch(t *testing.T) {
	a := NewConverseAdapter()
	state := schema.NewStreamState("amazon.nova-pro-v1:0")
	parse := func(data string) sse.ParseResult {
		t.Helper()
		res, err := a.ParseStreamEvent(sse.Event{Data: data}, state)
		require.NoError(t, err)
		return res
	}

	assert.Nil(t, parse(`{"messageStart":{"role":"assistant"}}`).Data)
	res := parse(`{"contentBlockDelta":{"contentBlockIndex":0,"delta":{"text":"Hel"}}}`)
	assert.Equal(t, "Hel", gjson.GetBytes(res.Data, "choices.0.delta.content").String())
	parse(`{"contentBlockDelta":{"contentBlockIndex":0,"delta":{"text":"lo"}}}`)
	assert.Nil(t, parse(`{"contentBlockStop":{"contentBlockIndex":0}}`).Data)

	res = parse(`{"contentBlockStart":{"contentBlockIndex":1,"start":{"toolUse":{"toolUseId":"tu1","name":"w"}}}}`)
	assert.Equal(t, "tu1", gjson.GetBytes(res.Data, "choices.0.delta.tool_calls.0.id").String())
	parse(`{"contentBlockDelta":{"contentBlockIndex":1,"delta":{"toolUse":{"input":"{\"a\":1}"}}}}`)
	assert.Equal(t, `{"a":1}`, state.ToolCalls[0].Function.Arguments)

	res = parse(`{"messageStop":{"stopReason":"tool_use"}}`)
	assert.Equal(t, "tool_calls", gjson.GetBytes(res.Data, "choices.0.finish_reason").String())
	assert.False(t, res.Finished)

	res = parse(`{"metadata":{"usage":{"inputTokens":4,"outputTokens":6,"totalTokens":10}}}`)
	assert.True(t, res.Finished)
	assert.Equal(t, int64(10), gjson.GetBytes(res.Data, "usage.total_tokens").Int())
	assert.Equal(t, "Hello", state.Content())
}

func TestConverseEventRequiresExactlyOneMember(t *testing.T) {
	a := NewConverseAdapter()
	state := schema.NewStreamState("m")
	_, err := a.ParseStreamEvent(sse.Event{Data: `{}`}, state)
	assert.Error(t, err)
	_, err = a.ParseStreamEvent(sse.Event{Data: `{"messageStart":{"role":"assistant"},"messageStop":{"stopReason":"end_turn"}}`}, state)
	assert.Error(t, err)
}

func TestConverseEventSourceWrapsPayload(t *testing.T) {
	body := encodeFrames(t,
		frame{headers: map[string]string{":message-type": "event", ":event-type": "contentBlockDelta"},
			payload: `{"contentBlockIndex":0,"delta":{"text":"x"}}`},
	)
	src := NewConverseAdapter().EventSource(body)
	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "contentBlockDelta", ev.Event)
	assert.Equal(t, "x", gjson.Get(ev.Data, "contentBlockDelta.delta.text").String())
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestToConverseRequest(t *testing.T) {
	body := []byte(`{"model":"amazon.nova-pro-v1:0","max_tokens":50,"temperature":0,"messages":[
		{"role":"system","content":"sys"},
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"calling","tool_calls":[{"id":"c1","type":"function","function":{"name":"w","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"c1","content":"ok"}
	],"tools":[{"type":"function","function":{"name":"w","parameters":{"type":"object"}}}],"tool_choice":"auto"}`)
	cr, err := toConverse(body)
	require.NoError(t, err)
	raw, _ := json.Marshal(cr)
	g := gjson.ParseBytes(raw)

	assert.Equal(t, "sys", g.Get("system.0.text").String())
	assert.Equal(t, int64(3), g.Get("messages.#").Int())
	assert.Equal(t, "w", g.Get("messages.1.content.1.toolUse.name").String())
	assert.Equal(t, "c1", g.Get("messages.2.content.0.toolResult.toolUseId").String())
	assert.Equal(t, int64(50), g.Get("inferenceConfig.maxTokens").Int())
	assert.True(t, g.Get("inferenceConfig.temperature").Exists())
	assert.Equal(t, "w", g.Get("toolConfig.tools.0.toolSpec.name").String())
	assert.True(t, g.Get("toolConfig.toolChoice.auto").Exists())
}

func TestConverseParseResponse(t *testing.T) {
	body := []byte(`{"output":{"message":{"role":"assistant","content":[{"text":"Hi"}]}},"stopReason":"max_tokens","usage":{"inputTokens":2,"outputTokens":3,"totalTokens":5}}`)
	out, err := NewConverseAdapter().ParseResponse(body, &Request{Model: "amazon.nova-pro-v1:0"})
	require.NoError(t, err)
	assert.Equal(t, "Hi", gjson.GetBytes(out, "choices.0.message.content").String())
	assert.Equal(t, "length", gjson.GetBytes(out, "choices.0.finish_reason").String())
	assert.Equal(t, int64(5), gjson.GetBytes(out, "usage.total_tokens").Int())
}
