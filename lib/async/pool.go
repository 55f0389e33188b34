// Package async provides a bounded worker pool with backpressure, used to
// fan out batch script executions without letting callers flood the process.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/strataquant/dslengine/errs"
)

// Task is a unit of work executed by a pool worker.
type Task func(context.Context) error

type job struct {
	ctx context.Context
	fn  Task
}

// Pool is a fixed-size worker pool. Submit applies backpressure: when the
// queue is full it fails fast instead of blocking the caller.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once

	// mu orders Submit's channel send against Close closing the channel.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid,
			errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, jobs: make(chan job, queue)}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task, failing fast when the pool is closed or at
// capacity.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid,
			errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.New("lib/async", errs.CodeUnavailable,
			errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	select {
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable,
			errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks and cancels workers. Tasks already queued
// still run, with their context cancelled.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cancel()
		close(p.jobs)
	})
}

// Shutdown waits for in-flight tasks to complete or the context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			// Drain the queue so Shutdown never waits on a job no worker
			// will pick up; Close has already closed the channel.
			for j := range p.jobs {
				p.run(j)
			}
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(j)
		}
	}
}

func (p *Pool) run(j job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = p.ctx
	}
	func() {
		// A panicking task must not take the worker down with it; callers
		// observe failures through their own result plumbing.
		defer func() {
			_ = recover()
		}()
		_ = j.fn(ctx)
	}()
	p.wg.Done()
}
