package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"aiproxy-go/internal/cache"
	"aiproxy-go/internal/monitoring"
	"aiproxy-go/internal/sse"
	log "github.com/sirupsen/logrus"
)

const cacheWriteTimeout = 5 * time.Second

// cacheTee copies the stream into memory and stores it once the upstream
// body ends cleanly. Errors, an oversized body or a stream the SSE pipeline
// reports as incomplete abandon the write.
type cacheTee struct {
	io.ReadCloser
	buf     bytes.Buffer
	limit   int
	dropped bool
	done    bool

	store   *cache.Encrypted
	keys    Keys
	ttl     int
	headers map[string]string
	now     func() time.Time
	logger  *log.Entry
}

func (t *cacheTee) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if n > 0 && !t.dropped {
		if t.limit > 0 && t.buf.Len()+n > t.limit {
			t.dropped = true
			t.buf.Reset()
			monitoring.RecordCache("oversize")
			t.logger.WithField("limit", t.limit).Debug("response too large to cache")
		} else {
			t.buf.Write(p[:n])
		}
	}
	if errors.Is(err, io.EOF) {
		t.commit()
	} else if err != nil {
		t.dropped = true
	}
	return n, err
}

// Close before EOF means the client went away; the partial body is dropped.
func (t *cacheTee) Close() error {
	t.dropped = true
	return t.ReadCloser.Close()
}

func (t *cacheTee) commit() {
	if t.done || t.dropped {
		return
	}
	t.done = true
	if c, ok := t.ReadCloser.(sse.Completer); ok && !c.Complete() {
		t.dropped = true
		t.buf.Reset()
		monitoring.RecordCache("incomplete")
		t.logger.Debug("stream ended without a clean finish, not caching")
		return
	}
	raw, err := json.Marshal(newEntry(t.headers, t.buf.Bytes(), t.now(), t.ttl))
	if err != nil {
		t.logger.WithError(err).Warn("encode cache entry failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	if err := t.store.Put(ctx, t.keys.Encryption, t.keys.Cache, raw, time.Duration(t.ttl)*time.Second); err != nil {
		monitoring.RecordCache("write_error")
		t.logger.WithError(err).Warn("cache write failed")
		return
	}
	monitoring.RecordCache("write")
	t.logger.WithField("ttl", t.ttl).Debug("response cached")
}
