package monitoring

import (
	"context"
	"errors"
	"time"

	"aiproxy-go/internal/storage"
	log "github.com/sirupsen/logrus"
)

// SlowOpThreshold 慢操作阈值
const SlowOpThreshold = 100 * time.Millisecond

// InstrumentedBackend 记录缓存后端每次操作的耗时, 超过阈值时输出慢操作日志。
type InstrumentedBackend struct {
	storage.Backend
	name      string
	threshold time.Duration
}

// Instrument wraps b; a non-positive threshold uses SlowOpThreshold.
func Instrument(b storage.Backend, name string, threshold time.Duration) *InstrumentedBackend {
	if threshold <= 0 {
		threshold = SlowOpThreshold
	}
	return &InstrumentedBackend{Backend: b, name: name, threshold: threshold}
}

func (i *InstrumentedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := i.Backend.Get(ctx, key)
	i.observe("get", start, err)
	return v, err
}

func (i *InstrumentedBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := i.Backend.Set(ctx, key, value, ttl)
	i.observe("set", start, err)
	return err
}

func (i *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Backend.Delete(ctx, key)
	i.observe("delete", start, err)
	return err
}

func (i *InstrumentedBackend) observe(op string, start time.Time, err error) {
	d := time.Since(start)
	result := "ok"
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	StorageOpDuration.WithLabelValues(i.name, op, result).Observe(d.Seconds())
	if d >= i.threshold {
		log.WithFields(log.Fields{
			"backend":     i.name,
			"op":          op,
			"duration_ms": d.Milliseconds(),
			"result":      result,
		}).Warn("slow cache backend operation")
	}
}
