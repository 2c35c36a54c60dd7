package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a registration call does not finish in time.
var ErrTimeout = errors.New("registration timed out")

// TimeoutMiddleware bounds each call. The inner call gets a context with the deadline;
// if it ignores the deadline the middleware still returns ErrTimeout on time.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
		}
	}
}
