package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueRunsTasksInOrderOneAtATime(t *testing.T) {
	t.Parallel()

	q := New(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	var (
		mu      sync.Mutex
		order   []int
		running int
		overlap bool
	)
	for i := 0; i < 5; i++ {
		i := i
		err := q.Enqueue(ctx, func(context.Context) error {
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			order = append(order, i)
			running--
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	q.Close()

	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatalf("tasks overlapped")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("unexpected order: %v", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(order))
	}
}

func TestQueueFailingTaskDoesNotStopWorker(t *testing.T) {
	t.Parallel()

	q := New(2, nil)
	ctx := context.Background()
	go q.Start(ctx)

	ran := make(chan struct{})
	_ = q.Enqueue(ctx, func(context.Context) error { return errors.New("boom") })
	_ = q.Enqueue(ctx, func(context.Context) error { close(ran); return nil })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("second task never ran")
	}
	q.Close()
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := New(1, nil)
	q.Close()
	q.Close()
	if err := q.Enqueue(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestQueueEnqueueRespectsContextWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1, nil)
	_ = q.Enqueue(context.Background(), func(context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
