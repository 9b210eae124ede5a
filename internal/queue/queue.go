// Package queue runs tasks one at a time in submission order.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when enqueuing after Close.
var ErrClosed = errors.New("queue closed")

type Task func(context.Context) error

// Queue is a bounded FIFO drained by a single worker.
type Queue struct {
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan Task
	done   chan struct{}
}

func New(size int, logger *slog.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{ch: make(chan Task, size), done: make(chan struct{}), logger: logger}
}

// Start runs the worker until ctx is cancelled or the queue is closed and drained.
func (q *Queue) Start(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.ch:
			if !ok {
				return
			}
			if task == nil {
				continue
			}
			if err := task(ctx); err != nil {
				q.logger.Warn("queued task failed", "error", err)
			}
		}
	}
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks; queued ones still run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Done is closed when the worker exits.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
