// Package lifecycle owns the teardown of an application.
//
// Components register cleanup callbacks on a Scope while they start up; the application
// runs them once, newest first, when it shuts down.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrShutDown is returned by OnShutdown once Shutdown has started.
var ErrShutDown = errors.New("scope already shut down")

type callback struct {
	name string
	fn   func(ctx context.Context) error
}

// Scope collects teardown callbacks.
type Scope struct {
	logger log.Logger

	mu        sync.Mutex
	callbacks []callback
	once      sync.Once
	shutdown  bool
	err       error
}

func NewScope(logger log.Logger) *Scope {
	return &Scope{logger: log.WithPrefix(logger, "component", "Scope")}
}

// OnShutdown registers fn to run during Shutdown.
func (s *Scope) OnShutdown(name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrShutDown
	}
	s.callbacks = append(s.callbacks, callback{name: name, fn: fn})
	return nil
}

// Shutdown runs every callback exactly once in reverse registration order. A failing or
// panicking callback is logged and does not stop the others. Later calls return the
// result of the first one.
func (s *Scope) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		callbacks := s.callbacks
		s.callbacks = nil
		s.mu.Unlock()

		var errs []error
		for i := len(callbacks) - 1; i >= 0; i-- {
			cb := callbacks[i]
			if err := s.run(ctx, cb); err != nil {
				level.Error(s.logger).Log("msg", "Shutdown callback failed", "callback", cb.name, "err", err)
				errs = append(errs, fmt.Errorf("%s: %w", cb.name, err))
			}
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}

func (s *Scope) run(ctx context.Context, cb callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb.fn(ctx)
}

// NotifyContext returns a context that is cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
