package queue

import (
	"context"
	"fmt"
	"sync"
)

// Op identifies which side of a queue a goroutine is blocked on.
type Op int

const (
	// OpPut is a producer waiting for space.
	OpPut Op = iota
	// OpTake is a consumer waiting for an item.
	OpTake
)

// String returns the string representation of Op.
func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpTake:
		return "take"
	default:
		return "unknown"
	}
}

// Option configures a BoundedQueue.
type Option func(*options)

type options struct {
	onWait func(name string, op Op)
}

// WithWaitHook registers a callback invoked every time a caller is about to
// block. The callback runs with the queue lock held and must not call back
// into the queue.
func WithWaitHook(fn func(name string, op Op)) Option {
	return func(o *options) {
		o.onWait = fn
	}
}

// BoundedQueue is a fixed-capacity buffer with blocking Put and Take.
//
// Take removes the most recently inserted item, so the buffer behaves as a
// stack rather than a FIFO queue. Callers that rely on arrival order must not
// use it.
type BoundedQueue[T any] struct {
	name     string
	capacity int
	onWait   func(name string, op Op)

	mu             sync.Mutex
	spaceAvailable *sync.Cond
	itemAvailable  *sync.Cond
	items          []T // guarded by mu; len(items) is the count
}

// New creates a queue holding at most capacity items. It panics if capacity
// is not positive.
func New[T any](name string, capacity int, opts ...Option) *BoundedQueue[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("queue %q: capacity must be positive, got %d", name, capacity))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	q := &BoundedQueue[T]{
		name:     name,
		capacity: capacity,
		onWait:   o.onWait,
		items:    make([]T, 0, capacity),
	}
	q.spaceAvailable = sync.NewCond(&q.mu)
	q.itemAvailable = sync.NewCond(&q.mu)
	return q
}

// Put inserts item, blocking while the queue is full. It returns ctx.Err()
// if ctx is done before the item could be inserted; the queue is then left
// unchanged.
func (q *BoundedQueue[T]) Put(ctx context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(q.items) == q.capacity {
		stop := q.wakeOnDone(ctx, q.spaceAvailable)
		defer stop()

		for len(q.items) == q.capacity {
			if err := ctx.Err(); err != nil {
				// Pass on a wakeup this goroutine may have consumed.
				q.spaceAvailable.Signal()
				return err
			}
			q.waiting(OpPut)
			q.spaceAvailable.Wait()
		}
	}

	q.items = append(q.items, item)
	q.itemAvailable.Signal()
	return nil
}

// Take removes and returns the most recently inserted item, blocking while
// the queue is empty. It returns ctx.Err() if ctx is done first.
func (q *BoundedQueue[T]) Take(ctx context.Context) (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if len(q.items) == 0 {
		stop := q.wakeOnDone(ctx, q.itemAvailable)
		defer stop()

		for len(q.items) == 0 {
			if err := ctx.Err(); err != nil {
				q.itemAvailable.Signal()
				return zero, err
			}
			q.waiting(OpTake)
			q.itemAvailable.Wait()
		}
	}

	last := len(q.items) - 1
	item := q.items[last]
	q.items[last] = zero
	q.items = q.items[:last]
	q.spaceAvailable.Signal()
	return item, nil
}

// Len returns the number of items currently buffered.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the fixed capacity.
func (q *BoundedQueue[T]) Cap() int {
	return q.capacity
}

// Name returns the queue's name, e.g. "ingress".
func (q *BoundedQueue[T]) Name() string {
	return q.name
}

// String returns a human-readable representation of the queue's state.
func (q *BoundedQueue[T]) String() string {
	return fmt.Sprintf("Queue(%s %d/%d)", q.name, q.Len(), q.capacity)
}

// wakeOnDone broadcasts on cond once ctx is done. The broadcast takes the
// queue lock, so it cannot slip in between a waiter's ctx check and its Wait.
func (q *BoundedQueue[T]) wakeOnDone(ctx context.Context, cond *sync.Cond) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		cond.Broadcast()
		q.mu.Unlock()
	})
}

func (q *BoundedQueue[T]) waiting(op Op) {
	if q.onWait != nil {
		q.onWait(q.name, op)
	}
}
