package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"aiproxy-go/internal/schema"
	"aiproxy-go/internal/sse"
)

// Passthrough is implemented by adapters whose non-streaming responses are
// already canonical. Their streams still run through the SSE pipeline.
type Passthrough interface {
	Passthrough() bool
}

// Normalize rewrites a successful upstream response into the shape the
// client asked for. Canonical requests get canonical JSON or SSE; native
// requests are returned in the vendor format, with Bedrock event-stream
// bodies re-framed as text SSE.
func Normalize(ctx context.Context, a Adapter, req *Request, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}
	es, isEventStream := a.(EventSourcer)

	if req.Native != NativeNone {
		if req.Stream && isEventStream {
			setStreamBody(resp, sse.Transform(ctx, es.EventSource(resp.Body), nativeEvent,
				sse.WithTerminal(nil), sse.WithCompleteOnEOF(cleanEOF)))
		}
		return resp, nil
	}
	if p, ok := a.(Passthrough); ok && p.Passthrough() && !req.Stream {
		return resp, nil
	}

	if !req.Stream {
		raw, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", a.Name(), err)
		}
		out, err := a.ParseResponse(raw, req)
		if err != nil {
			return nil, err
		}
		resp.Body = io.NopCloser(bytes.NewReader(out))
		resp.ContentLength = int64(len(out))
		resp.Header.Set("Content-Type", "application/json")
		resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
		return resp, nil
	}

	state := schema.NewStreamState(req.Model)
	if si, ok := a.(StateInitializer); ok {
		si.InitState(req, state)
	}
	var src sse.Source
	if isEventStream {
		src = es.EventSource(resp.Body)
	} else {
		src = sse.NewDecoder(resp.Body)
	}
	parse := func(ev sse.Event) (sse.ParseResult, error) {
		return a.ParseStreamEvent(ev, state)
	}
	finished := func() bool { return state.FinishReason != "" }
	setStreamBody(resp, sse.Transform(ctx, src, parse, sse.WithCompleteOnEOF(finished)))
	return resp, nil
}

// cleanEOF accepts any EOF; the event-stream decoder already fails on a
// truncated message.
func cleanEOF() bool { return true }

func nativeEvent(ev sse.Event) (sse.ParseResult, error) {
	return sse.ParseResult{Event: ev.Event, Data: []byte(ev.Data)}, nil
}

func setStreamBody(resp *http.Response, body io.ReadCloser) {
	resp.Body = body
	resp.ContentLength = -1
	resp.Header.Del("Content-Length")
	resp.Header.Set("Content-Type", "text/event-stream")
	resp.Header.Set("Cache-Control", "no-cache")
}
