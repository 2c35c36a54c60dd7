package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := NewPool(1, 4, 0, log.NewNopLogger())

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(100), atomic.LoadInt32(&n))
	require.NoError(t, p.Close(context.Background()))
}

func TestPoolNeverExceedsMax(t *testing.T) {
	p := NewPool(1, 4, 0, log.NewNopLogger())

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			cur := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
	require.NoError(t, p.Close(context.Background()))
}

func TestPoolShrinksToCore(t *testing.T) {
	p := NewPool(1, 4, 0, log.NewNopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
		}))
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return p.Stats().Workers <= 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close(context.Background()))
}

func TestPoolSurvivesPanic(t *testing.T) {
	p := NewPool(1, 1, 0, log.NewNopLogger())

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task after panic never ran")
	}
	require.NoError(t, p.Close(context.Background()))
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	p := NewPool(1, 1, 0, log.NewNopLogger())

	var n int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&n, 1)
		}))
	}
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int32(10), atomic.LoadInt32(&n))

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestPoolCloseTimeout(t *testing.T) {
	p := NewPool(1, 1, 0, log.NewNopLogger())
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Close(ctx))
	close(release)
}

func TestNewPoolClamps(t *testing.T) {
	p := NewPool(10, 0, 0, log.NewNopLogger())
	assert.Equal(t, 1, p.max)
	assert.Equal(t, 1, p.core)
}
