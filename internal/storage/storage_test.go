package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackendRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)

	rb := NewRedisBackend(mr.Addr(), "", 0, "test:")
	require.NoError(t, rb.Initialize(ctx))
	t.Cleanup(func() { _ = rb.Close() })

	_, err = rb.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, rb.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := rb.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	assert.True(t, mr.Exists("test:cache:k"))

	mr.FastForward(2 * time.Minute)
	_, err = rb.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, rb.Set(ctx, "d", []byte("x"), time.Minute))
	require.NoError(t, rb.Delete(ctx, "d"))
	assert.ErrorIs(t, rb.Delete(ctx, "d"), ErrNotFound)
}

func TestMemoryBackendExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	m := NewMemoryBackend()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 10*time.Second))
	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	got[0] = 'x'
	again, _ := m.Get(ctx, "a")
	assert.Equal(t, "1", string(again), "returned slices must not alias stored data")

	now = now.Add(10 * time.Second)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
