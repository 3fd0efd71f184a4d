package schema

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StreamState accumulates one streaming call. Adapters mutate it while
// parsing vendor events; the telemetry tap reads it at the end.
type StreamState struct {
	ID      string
	Model   string
	Created int64

	Role         string
	ContentIndex int
	content      strings.Builder
	ToolCalls    []ToolCall
	Reasoning    []Reasoning
	FinishReason string
	Usage        *Usage

	// Blocks maps a vendor content-block index to its kind ("text",
	// "tool_use", "thinking") and, for tools, the canonical tool-call slot.
	Blocks map[int]Block
	// StructuredViaTool marks calls whose structured output arrives as the
	// arguments of a forced tool; those arguments are emitted as content.
	StructuredViaTool bool
}

// Block is the bookkeeping for one vendor content block.
type Block struct {
	Kind     string
	ToolSlot int
	Started  bool
}

// NewStreamState returns a state with a generated completion id.
func NewStreamState(model string) *StreamState {
	return &StreamState{
		ID:      "chatcmpl-" + uuid.NewString(),
		Model:   model,
		Created: time.Now().Unix(),
		Role:    "assistant",
		Blocks:  make(map[int]Block),
	}
}

// Content returns the text accumulated so far.
func (s *StreamState) Content() string { return s.content.String() }

// AppendContent records text without building a chunk.
func (s *StreamState) AppendContent(text string) {
	s.content.WriteString(text)
	s.ContentIndex++
}

// ContentChunk records text and returns the chunk carrying it. The first
// chunk also carries the role.
func (s *StreamState) ContentChunk(text string) ChatCompletionChunk {
	d := Delta{Role: s.RoleOnce(), Content: Str(text)}
	s.AppendContent(text)
	return s.Chunk(d, nil)
}

// AddToolCall records a complete or opening tool call and returns the
// indexed delta entry for it.
func (s *StreamState) AddToolCall(id, name, args string) ToolCall {
	slot := len(s.ToolCalls)
	s.ToolCalls = append(s.ToolCalls, ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: args}})
	return ToolCall{Index: IntPtr(slot), ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
}

// StartToolCall opens a new tool call and returns its slot and chunk.
func (s *StreamState) StartToolCall(id, name string) (int, ChatCompletionChunk) {
	role := s.RoleOnce()
	tc := s.AddToolCall(id, name, "")
	return *tc.Index, s.Chunk(Delta{Role: role, ToolCalls: []ToolCall{tc}}, nil)
}

// ToolArgsChunk appends argument text to an open tool call.
func (s *StreamState) ToolArgsChunk(slot int, args string) ChatCompletionChunk {
	if slot >= 0 && slot < len(s.ToolCalls) {
		s.ToolCalls[slot].Function.Arguments += args
	}
	tc := ToolCall{Index: IntPtr(slot), Function: FunctionCall{Arguments: args}}
	return s.Chunk(Delta{ToolCalls: []ToolCall{tc}}, nil)
}

// AppendReasoning records thinking text; a new segment is opened when
// newSegment is set or none exists yet.
func (s *StreamState) AppendReasoning(text string, newSegment bool) {
	if newSegment || len(s.Reasoning) == 0 {
		s.Reasoning = append(s.Reasoning, Reasoning{})
	}
	s.Reasoning[len(s.Reasoning)-1].Content += text
}

// ReasoningChunk records thinking text and returns its chunk.
func (s *StreamState) ReasoningChunk(text string, newSegment bool) ChatCompletionChunk {
	role := s.RoleOnce()
	s.AppendReasoning(text, newSegment)
	return s.Chunk(Delta{Role: role, Reasoning: &Reasoning{Content: text}}, nil)
}

// SetReasoningSignature attaches a vendor signature to the current segment.
func (s *StreamState) SetReasoningSignature(sig string) {
	if len(s.Reasoning) == 0 {
		s.Reasoning = append(s.Reasoning, Reasoning{})
	}
	s.Reasoning[len(s.Reasoning)-1].ID = sig
}

// FinishChunk records the finish reason and returns the closing chunk,
// including usage when known.
func (s *StreamState) FinishChunk(reason string) ChatCompletionChunk {
	s.FinishReason = reason
	c := s.Chunk(Delta{}, Str(reason))
	c.Usage = s.Usage
	return c
}

// Message returns the accumulated assistant message.
func (s *StreamState) Message() ResponseMessage {
	m := ResponseMessage{Role: s.Role, ToolCalls: s.ToolCalls, Reasoning: s.Reasoning}
	if s.content.Len() > 0 || len(s.ToolCalls) == 0 {
		m.Content = Str(s.content.String())
	}
	return m
}

// UsageChunk returns a choice-less chunk carrying only usage.
func (s *StreamState) UsageChunk() ChatCompletionChunk {
	c := s.Chunk(Delta{}, nil)
	c.Choices = []ChunkChoice{}
	c.Usage = s.Usage
	return c
}

// RoleOnce returns the role until anything has been emitted.
func (s *StreamState) RoleOnce() string {
	if s.ContentIndex == 0 && len(s.ToolCalls) == 0 && len(s.Reasoning) == 0 {
		return s.Role
	}
	return ""
}

// Chunk wraps a delta into a single-choice chunk for this stream.
func (s *StreamState) Chunk(d Delta, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      s.ID,
		Object:  "chat.completion.chunk",
		Created: s.Created,
		Model:   s.Model,
		Choices: []ChunkChoice{{Index: 0, Delta: d, FinishReason: finish}},
	}
}

// MustJSON marshals v; the canonical types cannot fail to marshal.
func MustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// NewCompletion builds a single-choice completion.
func NewCompletion(id, model string, msg ResponseMessage, finish string, usage *Usage) ChatCompletion {
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	return ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{Index: 0, Message: msg, FinishReason: finish, Logprobs: json.RawMessage("null")}},
		Usage:   usage,
	}
}
