// Package worker provides a small elastic goroutine pool for short, bursty jobs.
//
// The pool keeps up to core workers around for its whole lifetime and grows to max
// while there is backlog. Workers above core exit once they have been idle for the
// configured idle time. The queue is unbounded, so Submit never blocks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs submitted tasks on at most max goroutines.
type Pool struct {
	core   int
	max    int
	idle   time.Duration
	logger log.Logger

	mu      sync.Mutex
	queue   []func()
	workers int
	waiting int
	closed  bool

	wake chan struct{} // one token per task handed to a waiting worker
	done chan struct{}
	wg   sync.WaitGroup
}

// Stats is a snapshot of the pool.
type Stats struct {
	Workers int
	Idle    int
	Queued  int
}

// NewPool creates a pool. core is clamped to [0, max] and max to at least 1.
func NewPool(core, max int, idle time.Duration, logger log.Logger) *Pool {
	if max < 1 {
		max = 1
	}
	if core < 0 {
		core = 0
	}
	if core > max {
		core = max
	}
	return &Pool{
		core:   core,
		max:    max,
		idle:   idle,
		logger: log.WithPrefix(logger, "component", "WorkerPool"),
		wake:   make(chan struct{}, max),
		done:   make(chan struct{}),
	}
}

// Submit queues task. A new worker is started when nobody is waiting for work and the
// pool is below max.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)

	if p.waiting > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
		return nil
	}
	if p.workers < p.max {
		p.workers++
		p.wg.Add(1)
		go p.work()
	}
	return nil
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.run(task)
			continue
		}

		surplus := p.workers > p.core
		if p.closed || (surplus && p.idle <= 0) {
			p.workers--
			p.mu.Unlock()
			return
		}
		p.waiting++
		p.mu.Unlock()

		var timeout <-chan time.Time
		var timer *time.Timer
		if surplus {
			timer = time.NewTimer(p.idle)
			timeout = timer.C
		}

		expired := false
		select {
		case <-p.wake:
		case <-p.done:
		case <-timeout:
			expired = true
		}
		if timer != nil {
			timer.Stop()
		}

		p.mu.Lock()
		p.waiting--
		if expired && len(p.queue) == 0 && p.workers > p.core {
			p.workers--
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

// run executes a task; a panicking task only takes itself down.
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(p.logger).Log("msg", "Task panicked", "err", fmt.Sprint(r))
		}
	}()
	task()
}

// Stats returns the current number of workers, idle workers and queued tasks.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Workers: p.workers, Idle: p.waiting, Queued: len(p.queue)}
}

// Close rejects new tasks, lets the workers drain the queue and waits for them to exit
// or for ctx to be done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for worker pool to drain: %w", ctx.Err())
	}
}
