// Package sse decodes event-source streams and re-frames them through a
// per-vendor parser into canonical `data:` frames.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"aiproxy-go/internal/constants"
)

// Event is one dispatched server-sent event.
type Event struct {
	Event string
	Data  string
	ID    string
}

// Source yields events until io.EOF.
type Source interface {
	Next() (Event, error)
}

// Decoder reads blank-line delimited events from r.
type Decoder struct {
	r      *bufio.Reader
	closer io.Closer
}

// NewDecoder wraps r. If r is an io.Closer it is closed by Close.
func NewDecoder(r io.Reader) *Decoder {
	d := &Decoder{r: bufio.NewReaderSize(r, constants.SSEScannerInitialBuffer)}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// Next returns the next event. Comment lines and events without fields are
// skipped; a trailing event without a blank line is still dispatched at EOF.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
		total   int
	)
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}
		eof := errors.Is(err, io.EOF)
		total += len(line)
		if total > constants.SSEScannerMaxBuffer {
			return Event{}, errors.New("sse: event exceeds maximum size")
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData || ev.Event != "" {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			if eof {
				return Event{}, io.EOF
			}
			total = 0
			continue
		}

		if !strings.HasPrefix(line, ":") {
			field, value := line, ""
			if i := strings.IndexByte(line, ':'); i >= 0 {
				field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
			}
			switch field {
			case "data":
				data = append(data, value)
				hasData = true
			case "event":
				ev.Event = value
			case "id":
				ev.ID = value
			}
		}

		if eof {
			if hasData || ev.Event != "" {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}

// Close closes the underlying reader when it is closable.
func (d *Decoder) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
