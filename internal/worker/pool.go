// Package worker runs blocking engine operations on a bounded pool and hands
// callers a future to await.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned for work submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool bounds how many submitted tasks run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool running at most size tasks concurrently.
// size <= 0 uses GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// Close stops accepting work and waits for queued and running tasks.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the task finishes or ctx is done. Abandoning a future
// does not cancel a task that already started.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) resolve(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Submit schedules fn on p. If ctx ends before a slot frees up, fn never
// runs and the future resolves with ctx.Err().
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		var zero T
		f.resolve(zero, ErrPoolClosed)
		return f
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			var zero T
			f.resolve(zero, err)
			return
		}
		defer p.sem.Release(1)
		v, err := fn(ctx)
		f.resolve(v, err)
	}()
	return f
}

// Do submits fn and waits for it.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	return Submit(ctx, p, fn).Wait(ctx)
}
