package upstream

import (
	"io"
	"sync"
	"time"
)

// TimedBody reports time-to-first-byte and total duration of a response body.
type TimedBody struct {
	io.ReadCloser
	start  time.Time
	now    func() time.Time
	report func(ttfb, total time.Duration)

	first time.Duration
	once  sync.Once
	seen  bool
}

// Timed wraps body; report is invoked once, on EOF, read error or Close.
func Timed(body io.ReadCloser, start time.Time, report func(ttfb, total time.Duration)) *TimedBody {
	return &TimedBody{ReadCloser: body, start: start, now: time.Now, report: report}
}

func (t *TimedBody) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if n > 0 && !t.seen {
		t.seen = true
		t.first = t.now().Sub(t.start)
	}
	if err != nil {
		t.finish()
	}
	return n, err
}

func (t *TimedBody) Close() error {
	t.finish()
	return t.ReadCloser.Close()
}

func (t *TimedBody) finish() {
	t.once.Do(func() {
		if t.report != nil {
			t.report(t.first, t.now().Sub(t.start))
		}
	})
}
