package middleware

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			duration := time.Since(start)
			if err != nil {
				level.Error(logger).Log(
					"msg", "Register to naming service failed",
					"service", req.ServiceName,
					"addr", req.Instance.Addr(),
					"duration", duration,
					"err", err,
				)
				return err
			}
			level.Debug(logger).Log(
				"msg", "Registered to naming service",
				"service", req.ServiceName,
				"addr", req.Instance.Addr(),
				"duration", duration,
			)
			return nil
		}
	}
}
