package pipeline

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by [Queue.TrySend] when the queue has no free slot.
// The value was not enqueued and still belongs to the caller.
var ErrQueueFull = errors.New("pipeline: queue full")

// Releasable is a value owning a resource that must be freed exactly once.
type Releasable interface {
	Release()
}

// Queue is a bounded channel of owned values.
//
// A successful send moves ownership into the queue and a successful receive
// moves it to the receiver, who must call Release. A failed send leaves
// ownership with the sender, who must release the value itself.
type Queue[T Releasable] struct {
	name string
	ch   chan T
}

// NewQueue returns a queue named name with room for capacity values.
func NewQueue[T Releasable](name string, capacity int) *Queue[T] {
	return &Queue[T]{name: name, ch: make(chan T, capacity)}
}

// Name returns the queue name used in logs and metrics.
func (q *Queue[T]) Name() string { return q.name }

// TrySend enqueues v without blocking or returns [ErrQueueFull].
func (q *Queue[T]) TrySend(v T) error {
	select {
	case q.ch <- v:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send blocks until v is enqueued or ctx is done.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a value is available or ctx is done.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Drain releases every queued value and returns how many there were. It is
// used once all senders and receivers have stopped.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		select {
		case v := <-q.ch:
			v.Release()
			n++
		default:
			return n
		}
	}
}
