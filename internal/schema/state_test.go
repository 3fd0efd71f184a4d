package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestStreamStateAccumulates(t *testing.T) {
	s := NewStreamState("m")

	first := MustJSON(s.ContentChunk("Hello"))
	assert.Equal(t, "assistant", gjson.GetBytes(first, "choices.0.delta.role").String())
	assert.Equal(t, "Hello", gjson.GetBytes(first, "choices.0.delta.content").String())
	assert.Equal(t, gjson.Null, gjson.GetBytes(first, "choices.0.finish_reason").Type)

	second := MustJSON(s.ContentChunk(" world"))
	assert.False(t, gjson.GetBytes(second, "choices.0.delta.role").Exists())

	slot, _ := s.StartToolCall("call_1", "lookup")
	s.ToolArgsChunk(slot, `{"q":`)
	s.ToolArgsChunk(slot, `"x"}`)
	s.ReasoningChunk("think", false)
	s.SetReasoningSignature("sig")

	s.Usage = &Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}
	fin := MustJSON(s.FinishChunk("tool_calls"))
	assert.Equal(t, "tool_calls", gjson.GetBytes(fin, "choices.0.finish_reason").String())
	assert.Equal(t, int64(7), gjson.GetBytes(fin, "usage.total_tokens").Int())

	msg := s.Message()
	require.NotNil(t, msg.Content)
	assert.Equal(t, "Hello world", *msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, `{"q":"x"}`, msg.ToolCalls[0].Function.Arguments)
	require.Len(t, msg.Reasoning, 1)
	assert.Equal(t, "sig", msg.Reasoning[0].ID)
}

func TestMessageText(t *testing.T) {
	m := Message{Role: "user", Content: []byte(`"hi"`)}
	assert.Equal(t, "hi", m.Text())
	m.Content = []byte(`[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"b"}]`)
	assert.Equal(t, "ab", m.Text())
	assert.Len(t, m.Parts(), 3)
}
