package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ringclock/internal/clock"
)

var (
	// ErrTransport marks a failure of the underlying send/receive channel.
	ErrTransport = errors.New("transport failure")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrUnknownPeer is returned when addressing a rank outside the ring.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrTimeout is returned when a per-call deadline set by WithTimeouts expires.
	ErrTimeout = errors.New("operation timed out")
)

// Transport moves clocks between ring participants. Delivery between one
// sender and one receiver is reliable and in order. Every call blocks until
// it completes or ctx is done.
type Transport interface {
	// Send hands a copy of vc to participant dest.
	Send(ctx context.Context, dest int, vc clock.VectorClock) error
	// Receive blocks until a clock from participant src is available.
	Receive(ctx context.Context, src int) (clock.VectorClock, error)
	// Close releases the transport. Blocked calls return ErrClosed.
	Close() error
}

// WithTimeouts bounds every Send and Receive on t. A zero duration keeps the
// call unbounded, which is the default behavior of every transport.
func WithTimeouts(t Transport, send, recv time.Duration) Transport {
	if send <= 0 && recv <= 0 {
		return t
	}
	return &timeoutTransport{Transport: t, send: send, recv: recv}
}

type timeoutTransport struct {
	Transport
	send time.Duration
	recv time.Duration
}

func (t *timeoutTransport) Send(ctx context.Context, dest int, vc clock.VectorClock) error {
	if t.send <= 0 {
		return t.Transport.Send(ctx, dest, vc)
	}
	callCtx, cancel := context.WithTimeout(ctx, t.send)
	defer cancel()

	err := t.Transport.Send(callCtx, dest, vc)
	if expired(ctx, callCtx, err) {
		return fmt.Errorf("%w: send to %d after %s", ErrTimeout, dest, t.send)
	}
	return err
}

func (t *timeoutTransport) Receive(ctx context.Context, src int) (clock.VectorClock, error) {
	if t.recv <= 0 {
		return t.Transport.Receive(ctx, src)
	}
	callCtx, cancel := context.WithTimeout(ctx, t.recv)
	defer cancel()

	vc, err := t.Transport.Receive(callCtx, src)
	if expired(ctx, callCtx, err) {
		return nil, fmt.Errorf("%w: receive from %d after %s", ErrTimeout, src, t.recv)
	}
	return vc, err
}

// expired reports whether err came from the per-call deadline rather than
// from the caller's own context.
func expired(parent, call context.Context, err error) bool {
	return err != nil && parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded)
}
