package providers

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"aiproxy-go/internal/credential"
	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestGoogleSchemaDereferencesAndDownConverts(t *testing.T) {
	var in map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"$defs": {"Loc": {"type": "object", "properties": {"city": {"type": "string"}}, "additionalProperties": false}},
		"type": "object",
		"properties": {
			"loc":  {"$ref": "#/$defs/Loc", "description": "where"},
			"unit": {"type": ["string", "null"], "enum": ["c", "f"]},
			"kind": {"const": "x"},
			"alt":  {"anyOf": [{"type": "integer"}, {"type": "null"}]}
		},
		"required": ["loc", "missing"],
		"additionalProperties": false
	}`), &in))

	out := googleSchema(in)
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	s := gjson.ParseBytes(raw)

	assert.False(t, s.Get(`\$defs`).Exists())
	assert.False(t, s.Get("additionalProperties").Exists())
	assert.Equal(t, "object", s.Get("properties.loc.type").String())
	assert.Equal(t, "where", s.Get("properties.loc.description").String())
	assert.Equal(t, "string", s.Get("properties.loc.properties.city.type").String())
	assert.False(t, s.Get("properties.loc.additionalProperties").Exists())
	assert.Equal(t, "string", s.Get("properties.unit.type").String())
	assert.True(t, s.Get("properties.unit.nullable").Bool())
	assert.Equal(t, "x", s.Get("properties.kind.enum.0").String())
	assert.Equal(t, "integer", s.Get("properties.alt.type").String())
	assert.True(t, s.Get("properties.alt.nullable").Bool())
	assert.Equal(t, `["loc"]`, s.Get("required").Raw)
}

func TestGoogleSchemaRecursiveRefTerminates(t *testing.T) {
	var in map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"definitions":{"Node":{"type":"object","properties":{"next":{"$ref":"#/definitions/Node"}}}},"$ref":"#/definitions/Node"}`), &in))
	out := googleSchema(in)
	assert.Equal(t, "object", out["type"])
}

func TestToGoogleParameterTable(t *testing.T) {
	body := []byte(`{"model":"gemini-2.0-flash","messages":[{"role":"system","content":"sys"},{"role":"user","content":"hi"}],
		"temperature":0.5,"max_tokens":100,"stop":"x","logit_bias":{"1":2},"totally_unknown":true,"seed":7,"n":1}`)
	out, err := toGoogle(body)
	require.NoError(t, err)
	g := gjson.ParseBytes(out)

	assert.Equal(t, 0.5, g.Get("generationConfig.temperature").Float())
	assert.Equal(t, int64(100), g.Get("generationConfig.maxOutputTokens").Int())
	assert.Equal(t, `["x"]`, g.Get("generationConfig.stopSequences").Raw)
	assert.Equal(t, int64(7), g.Get("generationConfig.seed").Int())
	assert.False(t, g.Get("generationConfig.logitBias").Exists())
	assert.False(t, g.Get("totally_unknown").Exists())
	assert.Equal(t, "sys", g.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, "user", g.Get("contents.0.role").String())
	assert.Equal(t, "hi", g.Get("contents.0.parts.0.text").String())
}

func TestToGoogleToolsAndToolResults(t *testing.T) {
	body := []byte(`{"model":"gemini-2.0-flash","messages":[
		{"role":"user","content":"weather?"},
		{"role":"assistant","tool_calls":[{"id":"c1","type":"function","function":{"name":"w","arguments":"{\"city\":\"Paris\"}"}}]},
		{"role":"tool","tool_call_id":"c1","content":"sunny"}
	],"tools":[{"type":"function","function":{"name":"w","description":"d","parameters":{"type":"object","properties":{"city":{"type":"string"}},"additionalProperties":false}}}],
	"tool_choice":{"type":"function","function":{"name":"w"}}}`)
	out, err := toGoogle(body)
	require.NoError(t, err)
	g := gjson.ParseBytes(out)

	assert.Equal(t, "model", g.Get("contents.1.role").String())
	assert.Equal(t, "Paris", g.Get("contents.1.parts.0.functionCall.args.city").String())
	assert.Equal(t, "w", g.Get("contents.2.parts.0.functionResponse.name").String())
	assert.Equal(t, "sunny", g.Get("contents.2.parts.0.functionResponse.response.result").String())
	assert.Equal(t, "w", g.Get("tools.0.functionDeclarations.0.name").String())
	assert.False(t, g.Get("tools.0.functionDeclarations.0.parameters.additionalProperties").Exists())
	assert.Equal(t, "ANY", g.Get("toolConfig.functionCallingConfig.mode").String())
	assert.Equal(t, "w", g.Get("toolConfig.functionCallingConfig.allowedFunctionNames.0").String())
}

func TestGoogleBuildRequestAIStudio(t *testing.T) {
	req := &Request{Endpoint: "chat/completions", Model: "gemini-2.0-flash", Stream: true,
		Body: []byte(`{"model":"gemini-2.0-flash","stream":true,"messages":[{"role":"user","content":"hi"}]}`)}
	hreq, err := NewGoogleAdapter().BuildRequest(context.Background(), req, &credential.APISecret{Type: credential.TypeGoogle, Secret: "AIza"})
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse", hreq.URL.String())
	assert.Equal(t, "AIza", hreq.Header.Get("x-goog-api-key"))
	raw, _ := io.ReadAll(hreq.Body)
	assert.False(t, gjson.GetBytes(raw, "stream").Exists())
}

func TestGoogleBuildRequestVertexNative(t *testing.T) {
	req := &Request{Endpoint: "google", Model: "gemini-2.5-pro", Native: NativeGoogle, Method: "countTokens",
		Body: []byte(`{"contents":[]}`)}
	secret := &credential.APISecret{Type: credential.TypeVertex, Secret: "tok", Metadata: credential.Metadata{Project: "p", Region: "europe-west4"}}
	hreq, err := NewVertexGoogleAdapter(NewTokenCache(nil, nil)).BuildRequest(context.Background(), req, secret)
	require.NoError(t, err)
	assert.Equal(t, "https://europe-west4-aiplatform.googleapis.com/v1/projects/p/locations/europe-west4/publishers/google/models/gemini-2.5-pro:countTokens", hreq.URL.String())
	assert.Equal(t, "Bearer tok", hreq.Header.Get("Authorization"))
}

func TestGoogleParseResponse(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"role":"model","parts":[
		{"text":"thinking...","thought":true},
		{"text":"Hello"},
		{"functionCall":{"name":"w","args":{"city":"Paris"}}}
	]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":3,"thoughtsTokenCount":2}}`)
	out, err := NewGoogleAdapter().ParseResponse(body, &Request{Model: "gemini-2.5-pro"})
	require.NoError(t, err)

	var c schema.ChatCompletion
	require.NoError(t, json.Unmarshal(out, &c))
	require.Len(t, c.Choices, 1)
	assert.Equal(t, "Hello", *c.Choices[0].Message.Content)
	assert.Equal(t, "tool_calls", c.Choices[0].FinishReason)
	require.Len(t, c.Choices[0].Message.ToolCalls, 1)
	assert.JSONEq(t, `{"city":"Paris"}`, c.Choices[0].Message.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "thinking...", c.Choices[0].Message.Reasoning[0].Content)
	assert.Equal(t, 5, c.Usage.PromptTokens)
	assert.Equal(t, 5, c.Usage.CompletionTokens)
	assert.Equal(t, 2, c.Usage.CompletionTokensDetails.ReasoningTokens)
}

func TestGoogleFinishReasonMapping(t *testing.T) {
	assert.Equal(t, "stop", googleFinishReason("STOP", false))
	assert.Equal(t, "tool_calls", googleFinishReason("STOP", true))
	assert.Equal(t, "length", googleFinishReason("MAX_TOKENS", false))
	assert.Equal(t, "content_filter", googleFinishReason("SAFETY", false))
	assert.Equal(t, "content_filter", googleFinishReason("RECITATION", true))
	assert.Equal(t, "", googleFinishReason("", false))
}

func TestGoogleStreamCombinesPartsIntoOneChunk(t *testing.T) {
	a := NewGoogleAdapter()
	state := schema.NewStreamState("gemini-2.0-flash")

	res, err := a.ParseStreamEvent(sse.Event{Data: `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`}, state)
	require.NoError(t, err)
	assert.Equal(t, "ab", gjson.GetBytes(res.Data, "choices.0.delta.content").String())
	assert.Equal(t, "assistant", gjson.GetBytes(res.Data, "choices.0.delta.role").String())

	res, err = a.ParseStreamEvent(sse.Event{Data: `{"candidates":[{"content":{"parts":[{"text":"c"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":3}}`}, state)
	require.NoError(t, err)
	assert.Equal(t, "c", gjson.GetBytes(res.Data, "choices.0.delta.content").String())
	assert.False(t, gjson.GetBytes(res.Data, "choices.0.delta.role").Exists())
	assert.Equal(t, "stop", gjson.GetBytes(res.Data, "choices.0.finish_reason").String())
	assert.Equal(t, int64(7), gjson.GetBytes(res.Data, "usage.total_tokens").Int())
	assert.Equal(t, "abc", state.Content())
}

func TestGoogleStreamEmptyEventSuppressed(t *testing.T) {
	res, err := NewGoogleAdapter().ParseStreamEvent(sse.Event{Data: `{"candidates":[{"content":{"parts":[]}}]}`}, schema.NewStreamState("g"))
	require.NoError(t, err)
	assert.Nil(t, res.Data)
}
