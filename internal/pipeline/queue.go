package pipeline

import (
	"context"
	"sync"
)

// Queue is the bounded FIFO connecting two pipeline stages. Push blocks
// while the queue is full, which is what throttles the upstream stage; a
// full queue never drops items. After Close, Pop keeps draining whatever is
// in flight and only then reports closed.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues item, blocking while the queue is full. It returns
// ErrQueueClosed after Close and the context error if ctx is done first.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the next item. ok is false once the queue is closed and
// fully drained. A context error aborts the wait without consuming.
func (q *Queue[T]) Pop(ctx context.Context) (item T, ok bool, err error) {
	// Drain-first keeps in-flight items from being lost when the queue is
	// closed while they are still buffered.
	select {
	case item = <-q.ch:
		return item, true, nil
	default:
	}
	select {
	case item = <-q.ch:
		return item, true, nil
	case <-q.done:
		select {
		case item = <-q.ch:
			return item, true, nil
		default:
			var zero T
			return zero, false, nil
		}
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Close marks the queue closed. Items already buffered remain poppable.
// Safe to call multiple times.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
