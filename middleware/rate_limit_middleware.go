package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces calls with a token bucket of r calls per second and the given
// burst. Unlike request handling, a registration is never dropped: it waits for a token.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return next(ctx, req)
		}
	}
}
