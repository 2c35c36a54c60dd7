package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ship-client/registry"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testReq = &Request{
	ServiceName: ".svc.a:1.0",
	Instance:    registry.ServiceInstance{IP: "127.0.0.1", Port: 8080, Ephemeral: true},
}

func okHandler(ctx context.Context, req *Request) error {
	return nil
}

func slowHandler(ctx context.Context, req *Request) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

// failingHandler fails the first n calls and counts every call.
func failingHandler(n int32, calls *int32) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		c := atomic.AddInt32(calls, 1)
		if c <= n {
			return errors.New("naming service unavailable")
		}
		return nil
	}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(log.NewNopLogger())(okHandler)
	assert.NoError(t, handler(context.Background(), testReq))

	boom := errors.New("boom")
	handler = LoggingMiddleware(log.NewNopLogger())(func(context.Context, *Request) error { return boom })
	assert.ErrorIs(t, handler(context.Background(), testReq), boom)
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeoutMiddleware(500 * time.Millisecond)(okHandler)
	assert.NoError(t, handler(context.Background(), testReq))
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)
	err := handler(context.Background(), testReq)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRetrySucceedsEventually(t *testing.T) {
	var calls int32
	handler := RetryMiddleware(3, time.Millisecond, log.NewNopLogger())(failingHandler(2, &calls))

	assert.NoError(t, handler(context.Background(), testReq))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryGivesUp(t *testing.T) {
	var calls int32
	handler := RetryMiddleware(2, time.Millisecond, log.NewNopLogger())(failingHandler(10, &calls))

	assert.Error(t, handler(context.Background(), testReq))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryStopsOnCancel(t *testing.T) {
	var calls int32
	handler := RetryMiddleware(5, time.Hour, log.NewNopLogger())(failingHandler(10, &calls))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, handler(ctx, testReq))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimitWaits(t *testing.T) {
	// 20 per second, burst 1: the third call waits roughly 100ms in total.
	handler := RateLimitMiddleware(20, 1)(okHandler)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, handler(context.Background(), testReq))
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRateLimitCancelled(t *testing.T) {
	handler := RateLimitMiddleware(0.001, 1)(okHandler)
	require.NoError(t, handler(context.Background(), testReq))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, handler(ctx, testReq))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(mark("a"), mark("b"), mark("c"))(okHandler)
	require.NoError(t, handler(context.Background(), testReq))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
