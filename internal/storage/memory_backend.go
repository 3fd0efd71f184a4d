package storage

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is a process-local Backend with per-key expiry and
// opportunistic sweeping.
type MemoryBackend struct {
	mu        sync.RWMutex
	items     map[string]memoryItem
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(it.expiresAt) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	now := m.now()
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: buf, expiresAt: now.Add(ttl)}
	if m.lastSweep.IsZero() || now.Sub(m.lastSweep) > time.Minute {
		for k, it := range m.items {
			if !now.Before(it.expiresAt) {
				delete(m.items, k)
			}
		}
		m.lastSweep = now
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		return ErrNotFound
	}
	delete(m.items, key)
	return nil
}

func (m *MemoryBackend) Health(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
