package middleware

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// RetryMiddleware retries a failed registration up to maxRetries times with exponential
// backoff starting at baseDelay. It gives up early when ctx is done.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			for i := 0; i < maxRetries && err != nil; i++ {
				level.Warn(logger).Log(
					"msg", "Retrying registration",
					"attempt", i+1,
					"service", req.ServiceName,
					"err", err,
				)
				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return err
				case <-timer.C:
				}
				err = next(ctx, req)
			}
			return err
		}
	}
}
