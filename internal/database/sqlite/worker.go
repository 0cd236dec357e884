package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrWorkerClosed is returned for writes submitted after Close.
var ErrWorkerClosed = errors.New("sqlite writer closed")

// TxFn is a unit of work executed inside a write transaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes all writes through one goroutine so SQLite never sees
// two concurrent writers. Each job runs in its own transaction and is either
// fully committed or rolled back.
type Worker struct {
	db     *sql.DB
	jobs   chan job
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewWorker starts the writer goroutine.
func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close drains queued jobs and stops the writer.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.done
}

// Do runs fn in a write transaction and waits for the commit.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	if err := w.enqueue(ctx, j); err != nil {
		return err
	}

	// The worker still completes an abandoned transaction; its result lands in
	// the buffered ch and is discarded.
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue holds the read lock so Close cannot close jobs mid-send. It bails
// out if the caller's context expires while the buffer is full.
func (w *Worker) enqueue(ctx context.Context, j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWorkerClosed
	}
	select {
	case w.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
