package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// SpanLogger receives per-request telemetry. Implementations must be safe to
// call from the goroutine that drains the response.
type SpanLogger interface {
	SetName(name string)
	Log(fields map[string]interface{})
	ReportProgress(text string)
	End()
}

// HistogramFunc records one observation of a named histogram.
type HistogramFunc func(name string, value float64, attrs map[string]string)

// SpanStarter opens a span logger for one proxied request.
type SpanStarter func(ctx context.Context, name string) (context.Context, SpanLogger)

type noopSpan struct{}

func (noopSpan) SetName(string)             {}
func (noopSpan) Log(map[string]interface{}) {}
func (noopSpan) ReportProgress(string)      {}
func (noopSpan) End()                       {}

func noopStarter(ctx context.Context, _ string) (context.Context, SpanLogger) {
	return ctx, noopSpan{}
}

// toolAccum is one streamed tool call being reassembled.
type toolAccum struct {
	ID   string
	Name string
	Args strings.Builder
}

// telemetryTap passes bytes through untouched while parsing the canonical
// response for the span logger. Parse failures are reported to the span and
// otherwise ignored.
type telemetryTap struct {
	io.ReadCloser
	span      SpanLogger
	histogram HistogramFunc
	attrs     map[string]string
	stream    bool
	limit     int
	start     time.Time
	now       func() time.Time

	line     []byte
	body     bytes.Buffer
	overflow bool

	content   strings.Builder
	reasoning strings.Builder
	tools     []*toolAccum
	finish    string
	usage     gjson.Result
	ttft      time.Duration
	chunks    int
	ended     bool
}

func (t *telemetryTap) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if n > 0 {
		t.observe(p[:n])
	}
	if err != nil {
		t.end(err)
	}
	return n, err
}

func (t *telemetryTap) Close() error {
	t.end(nil)
	return t.ReadCloser.Close()
}

func (t *telemetryTap) observe(b []byte) {
	defer t.recover("observe")
	if !t.stream {
		if t.overflow {
			return
		}
		if t.limit > 0 && t.body.Len()+len(b) > t.limit {
			t.overflow = true
			t.body.Reset()
			return
		}
		t.body.Write(b)
		return
	}
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			t.line = append(t.line, b...)
			return
		}
		t.line = append(t.line, b[:i]...)
		t.onLine(bytes.TrimRight(t.line, "\r"))
		t.line = t.line[:0]
		b = b[i+1:]
	}
}

func (t *telemetryTap) onLine(line []byte) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return
	}
	payload := bytes.TrimSpace(line[5:])
	if len(payload) == 0 || string(payload) == "[DONE]" || !gjson.ValidBytes(payload) {
		return
	}
	t.chunks++
	chunk := gjson.ParseBytes(payload)
	if u := chunk.Get("usage"); u.IsObject() {
		t.usage = u
	}
	choice := chunk.Get("choices.0")
	if !choice.Exists() {
		return
	}
	delta := choice.Get("delta")
	if c := delta.Get("content"); c.Type == gjson.String && c.Str != "" {
		if t.content.Len() == 0 && t.ttft == 0 {
			t.ttft = t.now().Sub(t.start)
		}
		t.content.WriteString(c.Str)
	}
	if r := delta.Get("reasoning.content"); r.Type == gjson.String {
		t.reasoning.WriteString(r.Str)
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		idx := int(tc.Get("index").Int())
		for len(t.tools) <= idx {
			t.tools = append(t.tools, &toolAccum{})
		}
		acc := t.tools[idx]
		if id := tc.Get("id").Str; id != "" {
			acc.ID = id
		}
		if name := tc.Get("function.name").Str; name != "" {
			acc.Name = name
		}
		acc.Args.WriteString(tc.Get("function.arguments").Str)
		return true
	})
	if f := choice.Get("finish_reason"); f.Type == gjson.String {
		t.finish = f.Str
	}
}

func (t *telemetryTap) parseBody() {
	if t.overflow || !gjson.ValidBytes(t.body.Bytes()) {
		return
	}
	doc := gjson.ParseBytes(t.body.Bytes())
	if u := doc.Get("usage"); u.IsObject() {
		t.usage = u
	}
	msg := doc.Get("choices.0.message")
	t.content.WriteString(msg.Get("content").Str)
	msg.Get("reasoning").ForEach(func(_, r gjson.Result) bool {
		t.reasoning.WriteString(r.Get("content").Str)
		return true
	})
	msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		acc := &toolAccum{ID: tc.Get("id").Str, Name: tc.Get("function.name").Str}
		acc.Args.WriteString(tc.Get("function.arguments").Str)
		t.tools = append(t.tools, acc)
		return true
	})
	t.finish = doc.Get("choices.0.finish_reason").Str
}

func (t *telemetryTap) end(readErr error) {
	if t.ended {
		return
	}
	t.ended = true
	defer t.span.End()
	defer t.recover("end")

	if !t.stream {
		t.parseBody()
	}
	elapsed := t.now().Sub(t.start)
	metrics := map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
	}
	if t.stream {
		metrics["chunks"] = t.chunks
		if t.ttft > 0 {
			metrics["time_to_first_token_ms"] = t.ttft.Milliseconds()
			t.observeHistogram("time_to_first_token_ms", float64(t.ttft.Milliseconds()))
		}
	}
	if t.usage.Exists() {
		metrics["prompt_tokens"] = t.usage.Get("prompt_tokens").Int()
		metrics["completion_tokens"] = t.usage.Get("completion_tokens").Int()
		metrics["total_tokens"] = t.usage.Get("total_tokens").Int()
		if c := t.usage.Get("prompt_tokens_details.cached_tokens"); c.Exists() {
			metrics["prompt_cached_tokens"] = c.Int()
		}
		if r := t.usage.Get("completion_tokens_details.reasoning_tokens"); r.Exists() {
			metrics["completion_reasoning_tokens"] = r.Int()
		}
	}
	t.observeHistogram("response_duration_ms", float64(elapsed.Milliseconds()))

	output := map[string]interface{}{
		"role":    "assistant",
		"content": t.content.String(),
	}
	if t.reasoning.Len() > 0 {
		output["reasoning"] = t.reasoning.String()
	}
	if len(t.tools) > 0 {
		calls := make([]map[string]string, 0, len(t.tools))
		for _, tc := range t.tools {
			calls = append(calls, map[string]string{"id": tc.ID, "name": tc.Name, "arguments": tc.Args.String()})
		}
		output["tool_calls"] = calls
	}
	fields := map[string]interface{}{
		"metrics":       metrics,
		"output":        output,
		"finish_reason": t.finish,
	}
	if readErr != nil && readErr != io.EOF {
		fields["error"] = readErr.Error()
	}
	t.span.Log(fields)
}

func (t *telemetryTap) observeHistogram(name string, v float64) {
	if t.histogram != nil {
		t.histogram(name, v, t.attrs)
	}
}

// recover keeps telemetry failures away from the client stream.
func (t *telemetryTap) recover(stage string) {
	if r := recover(); r != nil {
		t.span.Log(map[string]interface{}{"error": fmt.Sprintf("telemetry %s: %v", stage, r)})
	}
}
