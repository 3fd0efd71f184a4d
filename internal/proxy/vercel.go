package proxy

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"aiproxy-go/internal/sse"
	"github.com/tidwall/gjson"
)

// Vercel AI data-stream part codes.
const (
	vercelText       = "0"
	vercelError      = "3"
	vercelReasoning  = "g"
	vercelToolStart  = "b"
	vercelToolDelta  = "c"
	vercelFinishStep = "e"
	vercelFinish     = "d"
)

// vercelState tracks tool call ids by index and the finish/usage seen so
// far; the finish part is written once the canonical stream ends.
type vercelState struct {
	toolIDs      map[int]string
	finishReason string
	promptTokens int64
	outputTokens int64
	finished     bool
}

func vercelPart(code string, v interface{}) string {
	b, _ := json.Marshal(v)
	return code + ":" + string(b) + "\n"
}

func vercelFinishReason(r string) string {
	switch r {
	case "stop":
		return "stop"
	case "length":
		return "length"
	case "tool_calls":
		return "tool-calls"
	case "content_filter":
		return "content-filter"
	case "":
		return "unknown"
	}
	return "other"
}

func (s *vercelState) finishParts() string {
	if s.finished {
		return ""
	}
	s.finished = true
	usage := map[string]int64{"promptTokens": s.promptTokens, "completionTokens": s.outputTokens}
	reason := vercelFinishReason(s.finishReason)
	return vercelPart(vercelFinishStep, map[string]interface{}{"finishReason": reason, "usage": usage, "isContinued": false}) +
		vercelPart(vercelFinish, map[string]interface{}{"finishReason": reason, "usage": usage})
}

// parse folds one canonical chunk into zero or more data-stream parts.
func (s *vercelState) parse(ev sse.Event) (sse.ParseResult, error) {
	chunk := gjson.Parse(ev.Data)
	var b strings.Builder
	if e := chunk.Get("error"); e.Exists() {
		msg := e.Get("message").Str
		if msg == "" {
			msg = e.Raw
		}
		b.WriteString(vercelPart(vercelError, msg))
	}
	if u := chunk.Get("usage"); u.IsObject() {
		s.promptTokens = u.Get("prompt_tokens").Int()
		s.outputTokens = u.Get("completion_tokens").Int()
	}
	choice := chunk.Get("choices.0")
	delta := choice.Get("delta")
	if r := delta.Get("reasoning.content"); r.Type == gjson.String && r.Str != "" {
		b.WriteString(vercelPart(vercelReasoning, r.Str))
	}
	if c := delta.Get("content"); c.Type == gjson.String && c.Str != "" {
		b.WriteString(vercelPart(vercelText, c.Str))
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		idx := int(tc.Get("index").Int())
		if id := tc.Get("id").Str; id != "" {
			s.toolIDs[idx] = id
			b.WriteString(vercelPart(vercelToolStart, map[string]string{
				"toolCallId": id,
				"toolName":   tc.Get("function.name").Str,
			}))
		}
		if args := tc.Get("function.arguments").Str; args != "" {
			b.WriteString(vercelPart(vercelToolDelta, map[string]string{
				"toolCallId":    s.toolIDs[idx],
				"argsTextDelta": args,
			}))
		}
		return true
	})
	if f := choice.Get("finish_reason"); f.Type == gjson.String {
		s.finishReason = f.Str
	}
	if b.Len() == 0 {
		return sse.ParseResult{}, nil
	}
	return sse.ParseResult{Data: []byte(b.String())}, nil
}

// vercelSource appends the finish parts after the canonical stream ends.
type vercelSource struct {
	sse.Source
	state *vercelState
	done  bool
}

func (v *vercelSource) Next() (sse.Event, error) {
	if v.done {
		return sse.Event{}, io.EOF
	}
	ev, err := v.Source.Next()
	if err == io.EOF || (err == nil && ev.Data == sse.DoneSentinel) {
		v.done = true
		return sse.Event{Event: "finish"}, nil
	}
	return ev, err
}

func (v *vercelSource) Close() error {
	if c, ok := v.Source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// reencodeVercel converts a canonical SSE stream into the Vercel AI
// data-stream protocol.
func reencodeVercel(ctx context.Context, body io.ReadCloser) io.ReadCloser {
	state := &vercelState{toolIDs: make(map[int]string)}
	src := &vercelSource{Source: sse.NewDecoder(body), state: state}
	parse := func(ev sse.Event) (sse.ParseResult, error) {
		if ev.Event == "finish" && ev.Data == "" {
			return sse.ParseResult{Data: []byte(state.finishParts()), Finished: true}, nil
		}
		return state.parse(ev)
	}
	return sse.Transform(ctx, src, parse,
		sse.WithTerminal(nil),
		sse.WithFrame(func(_ string, payload []byte) []byte { return payload }),
		sse.WithErrorFrame(func(err error) []byte { return []byte(vercelPart(vercelError, err.Error())) }),
	)
}
