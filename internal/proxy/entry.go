package proxy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"aiproxy-go/internal/constants"
)

// Entry is the persisted layout of a cached response. Legacy entries carry a
// plain Body; current ones carry base64 Data and a Version.
type Entry struct {
	Headers  map[string]string `json:"headers"`
	Metadata *EntryMetadata    `json:"metadata,omitempty"`
	Body     *string           `json:"body,omitempty"`
	Data     string            `json:"data,omitempty"`
	Version  int               `json:"version,omitempty"`
}

// EntryMetadata records when an entry was written and for how long.
type EntryMetadata struct {
	CachedAt int64 `json:"cached_at"`
	TTL      int   `json:"ttl"`
}

var errBadEntry = errors.New("cached entry has no payload")

func newEntry(headers map[string]string, payload []byte, now time.Time, ttl int) Entry {
	return Entry{
		Headers:  headers,
		Metadata: &EntryMetadata{CachedAt: now.Unix(), TTL: ttl},
		Data:     base64.StdEncoding.EncodeToString(payload),
		Version:  constants.CacheEntryVersion,
	}
}

func decodeEntry(raw []byte) (*Entry, []byte, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, nil, err
	}
	switch {
	case e.Data != "":
		payload, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return nil, nil, err
		}
		return &e, payload, nil
	case e.Body != nil:
		return &e, []byte(*e.Body), nil
	}
	return nil, nil, errBadEntry
}

// age returns the entry age in seconds, or -1 when unknown.
func (e *Entry) age(now time.Time) int64 {
	if e.Metadata == nil || e.Metadata.CachedAt == 0 {
		return -1
	}
	a := now.Unix() - e.Metadata.CachedAt
	if a < 0 {
		a = 0
	}
	return a
}

// lineReader replays a payload one newline-terminated chunk per Read, so
// line-oriented consumers observe the cadence of a live stream.
type lineReader struct {
	buf []byte
}

func newLineReader(payload []byte) *lineReader { return &lineReader{buf: payload} }

func (l *lineReader) Read(p []byte) (int, error) {
	if len(l.buf) == 0 {
		return 0, io.EOF
	}
	end := len(l.buf)
	if i := bytes.IndexByte(l.buf, '\n'); i >= 0 {
		end = i + 1
	}
	n := copy(p, l.buf[:end])
	l.buf = l.buf[n:]
	return n, nil
}

func (l *lineReader) Close() error { return nil }
