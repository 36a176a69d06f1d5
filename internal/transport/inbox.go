package transport

import (
	"context"
	"sync"

	"ringclock/internal/clock"
)

// DefaultInboxSize is the per-source buffer used when none is configured.
const DefaultInboxSize = 16

// Inbox keeps one ordered mailbox per sending rank. Network transports
// deliver decoded clocks into it from their receive path; Receive drains the
// mailbox of one named source, so messages from different senders never
// overtake each other's queues.
type Inbox struct {
	mu         sync.RWMutex
	boxes      map[int]chan clock.VectorClock
	bufferSize int

	done      chan struct{}
	closeOnce sync.Once
}

// NewInbox creates an inbox whose mailboxes each buffer bufferSize clocks.
// Deliver blocks once a mailbox is full.
func NewInbox(bufferSize int) *Inbox {
	if bufferSize <= 0 {
		bufferSize = DefaultInboxSize
	}
	return &Inbox{
		boxes:      make(map[int]chan clock.VectorClock),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
	}
}

func (in *Inbox) box(src int) chan clock.VectorClock {
	in.mu.RLock()
	ch, ok := in.boxes[src]
	in.mu.RUnlock()
	if ok {
		return ch
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	// Double-check after acquiring write lock
	if ch, ok := in.boxes[src]; ok {
		return ch
	}
	ch = make(chan clock.VectorClock, in.bufferSize)
	in.boxes[src] = ch
	return ch
}

// Deliver queues vc as received from src.
func (in *Inbox) Deliver(ctx context.Context, src int, vc clock.VectorClock) error {
	select {
	case <-in.done:
		return ErrClosed
	default:
	}

	select {
	case in.box(src) <- vc:
		return nil
	case <-in.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the oldest clock delivered from src.
func (in *Inbox) Receive(ctx context.Context, src int) (clock.VectorClock, error) {
	select {
	case vc := <-in.box(src):
		return vc, nil
	case <-in.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns how many clocks from src are waiting to be received.
func (in *Inbox) Pending(src int) int {
	return len(in.box(src))
}

// Close wakes every blocked Deliver and Receive with ErrClosed.
func (in *Inbox) Close() {
	in.closeOnce.Do(func() {
		close(in.done)
	})
}
