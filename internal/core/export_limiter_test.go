package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportLimiter_AcquireRelease(t *testing.T) {
	limiter := NewExportLimiter(2, time.Second)
	ctx := context.Background()

	assert.Equal(t, 0, limiter.Active())
	assert.Equal(t, 2, limiter.Capacity())

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))
	assert.Equal(t, 2, limiter.Active())
	assert.False(t, limiter.TryAcquire())

	limiter.Release()
	assert.Equal(t, 1, limiter.Active())
	assert.True(t, limiter.TryAcquire())

	limiter.Release()
	limiter.Release()
	assert.Equal(t, 0, limiter.Active())
}

func TestExportLimiter_WaitExpires(t *testing.T) {
	limiter := NewExportLimiter(1, 50*time.Millisecond)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	start := time.Now()
	err := limiter.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrTooManyExports)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestExportLimiter_ContextCancellation(t *testing.T) {
	limiter := NewExportLimiter(1, 5*time.Second)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- limiter.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
}

func TestExportLimiter_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	limiter := NewExportLimiter(capacity, time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		maxSeen int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer limiter.Release()

			mu.Lock()
			if n := limiter.Active(); n > maxSeen {
				maxSeen = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, capacity)
	assert.Equal(t, 0, limiter.Active())
}

func TestExportLimiter_Defaults(t *testing.T) {
	limiter := NewExportLimiter(0, 0)
	assert.Equal(t, DefaultMaxConcurrentExports, limiter.Capacity())
}
