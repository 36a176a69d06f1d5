// Package zmq carries ring traffic over ZeroMQ. Each participant binds one
// PULL socket and keeps one PUSH socket per destination. A message has two
// frames: the sender's rank as decimal text, then the encoded counters.
package zmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"ringclock/internal/clock"
	"ringclock/internal/codec"
	"ringclock/internal/ring"
	"ringclock/internal/transport"
)

const (
	pollInterval = 100 * time.Millisecond
	sendTimeout  = 100 * time.Millisecond
)

// Options configures a ZeroMQ transport.
type Options struct {
	Self  int
	Ring  *ring.Ring
	Codec codec.Codec

	// BindAddr overrides the endpoint the PULL socket binds to. Ring node
	// addresses are ZeroMQ endpoints such as "tcp://127.0.0.1:5551".
	BindAddr string

	InboxSize int
}

// Transport is a transport.Transport over PUSH/PULL sockets.
type Transport struct {
	self  int
	ring  *ring.Ring
	codec codec.Codec
	inbox *transport.Inbox

	zctx *zmq.Context
	pull *zmq.Socket // owned by the receive loop

	sendMu sync.Mutex
	pushes map[int]*zmq.Socket // guarded by sendMu

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates the sockets and binds the PULL endpoint. Call Start to begin
// receiving.
func New(opts Options) (*Transport, error) {
	if opts.Ring == nil {
		return nil, errors.New("zmq transport requires a ring")
	}
	self, ok := opts.Ring.Node(opts.Self)
	if !ok {
		return nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, opts.Self)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Binary{}
	}
	bind := opts.BindAddr
	if bind == "" {
		bind = self.Addr
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create zmq context: %w", err)
	}
	pull, err := zctx.NewSocket(zmq.PULL)
	if err != nil {
		zctx.Term()
		return nil, fmt.Errorf("failed to create PULL socket: %w", err)
	}
	pull.SetLinger(0)
	if err := pull.Bind(bind); err != nil {
		pull.Close()
		zctx.Term()
		return nil, fmt.Errorf("failed to bind %s: %w", bind, err)
	}

	return &Transport{
		self:   opts.Self,
		ring:   opts.Ring,
		codec:  opts.Codec,
		inbox:  transport.NewInbox(opts.InboxSize),
		zctx:   zctx,
		pull:   pull,
		pushes: make(map[int]*zmq.Socket),
		stop:   make(chan struct{}),
	}, nil
}

// Start runs the receive loop in the background.
func (t *Transport) Start() {
	log.Printf("[P%d] Ring transport bound PULL socket", t.self)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.recvLoop()
	}()
}

func (t *Transport) recvLoop() {
	poller := zmq.NewPoller()
	poller.Add(t.pull, zmq.POLLIN)

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			log.Printf("[P%d] zmq poll failed: %v", t.self, err)
			return
		}
		if len(polled) == 0 {
			continue
		}

		frames, err := t.pull.RecvMessageBytes(0)
		if err != nil {
			log.Printf("[P%d] zmq receive failed: %v", t.self, err)
			continue
		}
		src, vc, err := t.decode(frames)
		if err != nil {
			log.Printf("[P%d] dropping malformed message: %v", t.self, err)
			continue
		}

		// Close shuts the inbox first, which unblocks a full mailbox here.
		if err := t.inbox.Deliver(context.Background(), src, vc); err != nil {
			return
		}
	}
}

func (t *Transport) decode(frames [][]byte) (int, clock.VectorClock, error) {
	if len(frames) != 2 {
		return 0, nil, fmt.Errorf("expected 2 frames, got %d", len(frames))
	}
	src, err := strconv.Atoi(string(frames[0]))
	if err != nil {
		return 0, nil, fmt.Errorf("bad source frame: %w", err)
	}
	if !t.ring.Contains(src) {
		return 0, nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, src)
	}
	vc, err := t.codec.Decode(frames[1], t.ring.Size())
	if err != nil {
		return 0, nil, err
	}
	return src, vc, nil
}

// pushSocket returns the connected PUSH socket for dest. Callers hold sendMu.
func (t *Transport) pushSocket(dest int) (*zmq.Socket, error) {
	if s, ok := t.pushes[dest]; ok {
		return s, nil
	}
	node, ok := t.ring.Node(dest)
	if !ok {
		return nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, dest)
	}

	s, err := t.zctx.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, fmt.Errorf("%w: create PUSH socket: %v", transport.ErrTransport, err)
	}
	s.SetLinger(0)
	s.SetSndtimeo(sendTimeout)
	if err := s.Connect(node.Addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", transport.ErrTransport, node.Addr, err)
	}
	t.pushes[dest] = s
	return s, nil
}

// Send queues vc for dest. While dest has not connected yet the PUSH socket
// refuses the message; Send keeps retrying until it is accepted or ctx is done.
func (t *Transport) Send(ctx context.Context, dest int, vc clock.VectorClock) error {
	payload, err := t.codec.Encode(vc)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	select {
	case <-t.stop:
		return transport.ErrClosed
	default:
	}

	s, err := t.pushSocket(dest)
	if err != nil {
		return err
	}

	source := strconv.Itoa(t.self)
	for {
		select {
		case <-t.stop:
			return transport.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, err := s.SendMessage(source, payload)
		if err == nil {
			return nil
		}
		if zmq.AsErrno(err) != zmq.Errno(syscall.EAGAIN) {
			return fmt.Errorf("%w: send to P%d: %v", transport.ErrTransport, dest, err)
		}
	}
}

// Receive returns the next clock delivered by src.
func (t *Transport) Receive(ctx context.Context, src int) (clock.VectorClock, error) {
	if !t.ring.Contains(src) {
		return nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, src)
	}
	return t.inbox.Receive(ctx, src)
}

// Close stops the receive loop, closes every socket and terminates the context.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		t.inbox.Close()
		t.wg.Wait()

		t.sendMu.Lock()
		for dest, s := range t.pushes {
			s.Close()
			delete(t.pushes, dest)
		}
		t.sendMu.Unlock()

		t.pull.Close()
		err = t.zctx.Term()
	})
	return err
}
