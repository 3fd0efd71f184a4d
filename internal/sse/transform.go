package sse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// DoneSentinel is the canonical end-of-stream payload.
const DoneSentinel = "[DONE]"

// DoneFrame is the terminal frame written exactly once per stream.
var DoneFrame = []byte("data: [DONE]\n\n")

// ParseResult is a parser's verdict for one event. A nil Data suppresses
// emission; Finished emits the terminal frame and stops the stream. Event,
// when set, is written as an `event:` line ahead of the data.
type ParseResult struct {
	Data     []byte
	Event    string
	Finished bool
}

// Parser converts one vendor event into at most one canonical payload.
type Parser func(ev Event) (ParseResult, error)

// Frame renders payload as a single `data:` frame.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}

// EventFrame renders a named event; an empty name yields a plain Frame.
func EventFrame(event string, payload []byte) []byte {
	if event == "" {
		return Frame(payload)
	}
	out := make([]byte, 0, len(event)+len(payload)+16)
	out = append(out, "event: "...)
	out = append(out, event...)
	out = append(out, '\n')
	return append(out, Frame(payload)...)
}

// ErrorFrame renders err as a data frame with an OpenAI-style error body.
func ErrorFrame(err error) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]string{"message": err.Error(), "type": "stream_error"},
	})
	return Frame(body)
}

// Completer is implemented by stream bodies that know whether the upstream
// ran to a clean end. Cache writers consult it before storing a stream.
type Completer interface {
	Complete() bool
}

// Stream is the reader returned by Transform.
type Stream struct {
	*io.PipeReader
	complete atomic.Bool
}

// Complete reports whether the stream ended on the upstream sentinel, a
// parser Finished result or an accepted EOF, with no error frame written.
// It is only meaningful once a Read has returned io.EOF.
func (s *Stream) Complete() bool { return s.complete.Load() }

type options struct {
	terminal    []byte
	frame       func(event string, payload []byte) []byte
	errorFrame  func(err error) []byte
	eofComplete func() bool
}

// Option customizes Transform.
type Option func(*options)

// WithTerminal replaces the terminal frame; nil disables it.
func WithTerminal(frame []byte) Option {
	return func(o *options) { o.terminal = frame }
}

// WithFrame replaces the `data:` framing of parser output. Re-encoders
// that speak a line protocol other than SSE use it.
func WithFrame(frame func(event string, payload []byte) []byte) Option {
	return func(o *options) { o.frame = frame }
}

// WithCompleteOnEOF lets an upstream EOF without sentinel count as a clean
// end when check reports true. Without it such a stream is incomplete.
func WithCompleteOnEOF(check func() bool) Option {
	return func(o *options) { o.eofComplete = check }
}

// WithErrorFrame replaces the rendering of fatal stream errors.
func WithErrorFrame(frame func(err error) []byte) Option {
	return func(o *options) { o.errorFrame = frame }
}

type writer struct {
	pw         *io.PipeWriter
	terminal   []byte
	frame      func(event string, payload []byte) []byte
	errorFrame func(err error) []byte
	finished   bool
}

func (w *writer) emit(b []byte) error {
	if w.finished {
		return nil
	}
	_, err := w.pw.Write(b)
	return err
}

// finish writes the terminal frame once.
func (w *writer) finish() error {
	if w.finished {
		return nil
	}
	w.finished = true
	if len(w.terminal) == 0 {
		return nil
	}
	_, err := w.pw.Write(w.terminal)
	return err
}

// Transform decodes src, runs every event through parse and streams the
// re-framed result. Writes block until the reader consumes them, so memory
// stays bounded by one event. Closing the returned reader, or cancelling
// ctx, stops the pipeline and closes src when it is closable.
func Transform(ctx context.Context, src Source, parse Parser, opts ...Option) *Stream {
	o := options{terminal: DoneFrame, frame: EventFrame, errorFrame: ErrorFrame}
	for _, opt := range opts {
		opt(&o)
	}
	pr, pw := io.Pipe()
	w := &writer{pw: pw, terminal: o.terminal, frame: o.frame, errorFrame: o.errorFrame}
	out := &Stream{PipeReader: pr}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = pw.CloseWithError(ctx.Err())
		case <-stop:
		}
	}()

	go func() {
		defer close(stop)
		defer func() {
			if c, ok := src.(io.Closer); ok {
				_ = c.Close()
			}
		}()
		complete, err := run(src, parse, w, o.eofComplete)
		if err == nil {
			err = w.finish()
		}
		if err == nil && complete {
			out.complete.Store(true)
		}
		pw.CloseWithError(err)
	}()
	return out
}

// run pumps events until the stream ends and reports whether it ended
// cleanly. The terminal frame is left to the caller.
func run(src Source, parse Parser, w *writer, eofComplete func() bool) (bool, error) {
	for {
		ev, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return eofComplete != nil && eofComplete(), nil
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, context.Canceled) {
				return false, err
			}
			log.WithError(err).Warn("sse upstream read failed")
			return false, w.emit(w.errorFrame(err))
		}
		if ev.Data == DoneSentinel {
			return true, nil
		}
		res, perr := parse(ev)
		if perr != nil {
			log.WithError(perr).WithField("event", ev.Event).Warn("sse parser failed")
			return false, w.emit(w.errorFrame(perr))
		}
		if res.Data != nil {
			if werr := w.emit(w.frame(res.Event, res.Data)); werr != nil {
				return false, werr
			}
		}
		if res.Finished {
			return true, nil
		}
	}
}
