// Package local connects ring participants that share one process.
//
// A Network owns one inbox per rank. Every Send runs the clock through the
// configured codec, so the receiver always gets its own copy decoded from the
// same wire format networked transports use.
package local

import (
	"context"
	"fmt"
	"sync"

	"ringclock/internal/clock"
	"ringclock/internal/codec"
	"ringclock/internal/transport"
)

// Network is an in-memory mesh of n endpoints.
type Network struct {
	size    int
	codec   codec.Codec
	inboxes []*transport.Inbox

	mu     sync.Mutex
	closed bool
}

// NewNetwork creates a mesh for a ring of size participants. bufferSize is
// the per-sender inbox capacity.
func NewNetwork(size, bufferSize int, c codec.Codec) *Network {
	if c == nil {
		c = codec.Binary{}
	}
	inboxes := make([]*transport.Inbox, size)
	for i := range inboxes {
		inboxes[i] = transport.NewInbox(bufferSize)
	}
	return &Network{size: size, codec: c, inboxes: inboxes}
}

// Endpoint returns the transport used by participant rank.
func (n *Network) Endpoint(rank int) (transport.Transport, error) {
	if rank < 0 || rank >= n.size {
		return nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, rank)
	}
	return &endpoint{net: n, self: rank}, nil
}

// Close shuts every endpoint down.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, in := range n.inboxes {
		in.Close()
	}
	return nil
}

type endpoint struct {
	net  *Network
	self int
}

func (e *endpoint) Send(ctx context.Context, dest int, vc clock.VectorClock) error {
	if dest < 0 || dest >= e.net.size {
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, dest)
	}
	payload, err := e.net.codec.Encode(vc)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}
	copyVC, err := e.net.codec.Decode(payload, e.net.size)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}
	return e.net.inboxes[dest].Deliver(ctx, e.self, copyVC)
}

func (e *endpoint) Receive(ctx context.Context, src int) (clock.VectorClock, error) {
	if src < 0 || src >= e.net.size {
		return nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, src)
	}
	return e.net.inboxes[e.self].Receive(ctx, src)
}

// Close is a no-op for a single endpoint; the Network owns the inboxes.
func (e *endpoint) Close() error {
	return nil
}
