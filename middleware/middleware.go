// Package middleware wraps naming-service registration calls.
//
// The onion model is the same as for any handler chain:
//
//	Chain(A, B, C)(handler) -> A(B(C(handler)))
//	A.before -> B.before -> C.before -> handler -> C.after -> B.after -> A.after
package middleware

import (
	"context"

	"ship-client/registry"
)

// Request is one registration of an instance under a service name.
type Request struct {
	ServiceName string
	Instance    registry.ServiceInstance
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Register is the innermost handler: it performs the call on reg.
func Register(reg registry.Registry) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		return reg.Register(ctx, req.ServiceName, req.Instance)
	}
}
