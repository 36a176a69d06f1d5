// Package grpcx carries ring traffic over gRPC: every clock is one unary
// Deliver call to the destination's server, with the sender's rank in the
// request metadata and the encoded counters as the request body.
package grpcx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ringclock/internal/clock"
	"ringclock/internal/codec"
	"ringclock/internal/ring"
	"ringclock/internal/transport"
)

// Options configures a gRPC transport.
type Options struct {
	Self  int
	Ring  *ring.Ring
	Codec codec.Codec

	// Listener, if set, is served as is. Otherwise ListenAddr is used, and
	// failing that the address of Self in Ring.
	Listener   net.Listener
	ListenAddr string

	InboxSize int
}

// Transport is a transport.Transport backed by a gRPC server for incoming
// clocks and lazily dialled clients for outgoing ones.
type Transport struct {
	self  int
	ring  *ring.Ring
	codec codec.Codec
	inbox *transport.Inbox

	lis        net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	clients    *ClientManager

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates the transport and binds its listener. Call Start to serve.
func New(opts Options) (*Transport, error) {
	if opts.Ring == nil {
		return nil, errors.New("grpc transport requires a ring")
	}
	self, ok := opts.Ring.Node(opts.Self)
	if !ok {
		return nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, opts.Self)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Binary{}
	}

	lis := opts.Listener
	if lis == nil {
		addr := opts.ListenAddr
		if addr == "" {
			addr = self.Addr
		}
		var err error
		lis, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	inbox := transport.NewInbox(opts.InboxSize)
	t := &Transport{
		self:       opts.Self,
		ring:       opts.Ring,
		codec:      opts.Codec,
		inbox:      inbox,
		lis:        lis,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		clients:    NewClientManager(),
	}

	RegisterRingServer(t.grpcServer, NewServer(opts.Self, opts.Ring.Size(), opts.Codec, inbox))
	healthpb.RegisterHealthServer(t.grpcServer, t.health)
	return t, nil
}

// Start serves incoming clocks in the background.
func (t *Transport) Start() {
	t.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	log.Printf("[P%d] Ring transport listening on %s", t.self, t.lis.Addr())

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.grpcServer.Serve(t.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("[P%d] Ring transport stopped serving: %v", t.self, err)
		}
	}()
}

// Addr returns the bound listen address.
func (t *Transport) Addr() net.Addr {
	return t.lis.Addr()
}

// Send delivers a copy of vc to dest. It waits for dest to come up rather
// than failing fast, and returns once dest has queued the clock.
func (t *Transport) Send(ctx context.Context, dest int, vc clock.VectorClock) error {
	node, ok := t.ring.Node(dest)
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, dest)
	}
	payload, err := t.codec.Encode(vc)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}

	client, err := t.clients.GetClient(node.Addr)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, sourceMetadataKey, strconv.Itoa(t.self))
	_, err = client.Deliver(ctx, &wrapperspb.BytesValue{Value: payload}, grpc.WaitForReady(true))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: deliver to P%d at %s: %v", transport.ErrTransport, dest, node.Addr, err)
	}
	return nil
}

// Receive returns the next clock delivered by src.
func (t *Transport) Receive(ctx context.Context, src int) (clock.VectorClock, error) {
	if !t.ring.Contains(src) {
		return nil, fmt.Errorf("%w: %d", transport.ErrUnknownPeer, src)
	}
	return t.inbox.Receive(ctx, src)
}

// Close stops the server and closes all client connections.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		// Unblock handlers waiting on a full inbox before draining the server.
		t.inbox.Close()
		t.health.Shutdown()
		t.grpcServer.GracefulStop()
		t.wg.Wait()
		// Serve already closed it unless Start was never called.
		_ = t.lis.Close()
		err = t.clients.Close()
	})
	return err
}
