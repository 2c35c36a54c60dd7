package agent

import (
	"context"
	"errors"
	"sync"
)

// batch tracks the registrations dispatched by one OnReady.
type batch struct {
	mu      sync.Mutex
	pending int
	sealed  bool // no more add calls
	closed  bool
	errs    []error
	done    chan struct{}
}

func newBatch() *batch {
	return &batch{done: make(chan struct{})}
}

func (b *batch) add() {
	b.mu.Lock()
	b.pending++
	b.mu.Unlock()
}

func (b *batch) finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.errs = append(b.errs, err)
	}
	b.pending--
	b.closeIfDone()
}

func (b *batch) seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	b.closeIfDone()
}

func (b *batch) closeIfDone() {
	if b.sealed && b.pending == 0 && !b.closed {
		b.closed = true
		close(b.done)
	}
}

func (b *batch) wait(ctx context.Context) error {
	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.errs...)
}
