package lease

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, ok, err := m.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.Held("p1"))

	_, ok, err = m.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := m.TryAcquire(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, ok)
	other()

	release()
	release()
	assert.False(t, m.Held("p1"))

	_, ok, err = m.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryConcurrentSingleWinner(t *testing.T) {
	m := NewMemory()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.TryAcquire(context.Background(), "hot"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := NewMemory().TryAcquire(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestRedisExclusive(t *testing.T) {
	addr := os.Getenv("FROYO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FROYO_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: "froyo:test:" + t.Name() + ":", TTL: 3 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	defer r.Close()

	release, ok, err := r.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	again, ok, err := r.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	again()
}
