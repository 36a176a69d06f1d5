// Package it runs whole rings in-process over the networked transports, one
// transport and coordinator per participant, all on loopback addresses.
package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ringclock/internal/codec"
	"ringclock/internal/config"
	"ringclock/internal/node"
	"ringclock/internal/pipeline"
	"ringclock/internal/ring"
	"ringclock/internal/transport"
	"ringclock/internal/transport/grpcx"
	"ringclock/internal/transport/zmq"
)

// Options configures a test cluster.
type Options struct {
	Size        int
	Transport   string // config.TransportGRPC or config.TransportZMQ
	Codec       codec.Codec
	Capacity    int
	Interval    time.Duration
	SendTimeout time.Duration
	Tracer      pipeline.Tracer
}

// Cluster is a running ring of networked participants.
type Cluster struct {
	ring  *ring.Ring
	nodes []*Node

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Node is one participant of the cluster.
type Node struct {
	Rank        int
	Addr        string
	Transport   transport.Transport
	Coordinator *node.RingCoordinator

	closeOnce sync.Once
	runErr    chan error
}

// StartCluster builds every transport, waits for them to be reachable and
// then starts every participant.
func StartCluster(ctx context.Context, opts Options) (*Cluster, error) {
	if opts.Capacity == 0 {
		opts.Capacity = config.DefaultCapacity
	}

	nodes, listeners, err := allocate(opts)
	if err != nil {
		return nil, err
	}
	r, err := ring.NewRing(nodes)
	if err != nil {
		return nil, err
	}

	c := &Cluster{ring: r}
	for _, n := range nodes {
		t, err := newTransport(opts, r, n.Rank, listeners[n.Rank])
		if err != nil {
			c.Stop()
			return nil, fmt.Errorf("failed to start transport for P%d: %w", n.Rank, err)
		}
		c.nodes = append(c.nodes, &Node{Rank: n.Rank, Addr: n.Addr, Transport: t, runErr: make(chan error, 1)})
	}

	if opts.Transport == config.TransportGRPC {
		for _, n := range c.nodes {
			if err := waitForReady(ctx, n, 10*time.Second); err != nil {
				c.Stop()
				return nil, err
			}
		}
	}

	for _, n := range c.nodes {
		coordinator, err := node.NewRingCoordinator(node.Options{
			Rank:         n.Rank,
			Ring:         r,
			Participants: len(c.nodes),
			Transport:    transport.WithTimeouts(n.Transport, opts.SendTimeout, 0),
			Capacity:     opts.Capacity,
			Interval:     opts.Interval,
			Tracer:       opts.Tracer,
		})
		if err != nil {
			c.Stop()
			return nil, err
		}
		n.Coordinator = coordinator
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for _, n := range c.nodes {
		c.wg.Add(1)
		go func(n *Node) {
			defer c.wg.Done()
			n.runErr <- n.Coordinator.Run(runCtx)
		}(n)
	}
	return c, nil
}

// allocate picks a free loopback address for every rank. gRPC keeps the
// listeners open; ZeroMQ binds by endpoint, so those are released.
func allocate(opts Options) ([]ring.Node, []net.Listener, error) {
	nodes := make([]ring.Node, opts.Size)
	listeners := make([]net.Listener, opts.Size)
	for i := range nodes {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			for _, l := range listeners[:i] {
				l.Close()
			}
			return nil, nil, fmt.Errorf("failed to allocate address: %w", err)
		}
		switch opts.Transport {
		case config.TransportZMQ:
			nodes[i] = ring.Node{Rank: i, Addr: fmt.Sprintf("tcp://%s", lis.Addr())}
			lis.Close()
		default:
			nodes[i] = ring.Node{Rank: i, Addr: lis.Addr().String()}
			listeners[i] = lis
		}
	}
	return nodes, listeners, nil
}

func newTransport(opts Options, r *ring.Ring, rank int, lis net.Listener) (transport.Transport, error) {
	switch opts.Transport {
	case config.TransportGRPC:
		t, err := grpcx.New(grpcx.Options{Self: rank, Ring: r, Codec: opts.Codec, Listener: lis})
		if err != nil {
			return nil, err
		}
		t.Start()
		return t, nil
	case config.TransportZMQ:
		t, err := zmq.New(zmq.Options{Self: rank, Ring: r, Codec: opts.Codec})
		if err != nil {
			return nil, err
		}
		t.Start()
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrTransportKind, opts.Transport)
	}
}

// waitForReady polls the node's gRPC health service until it reports
// SERVING.
func waitForReady(ctx context.Context, n *Node, timeout time.Duration) error {
	conn, err := grpc.NewClient(n.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial P%d: %w", n.Rank, err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for P%d to be ready", n.Rank)
			}

			healthCtx, cancel := context.WithTimeout(ctx, time.Second)
			resp, err := client.Check(healthCtx, &healthpb.HealthCheckRequest{Service: grpcx.ServiceName})
			cancel()

			if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
				return nil
			}
		}
	}
}

// Node returns the participant with the given rank, or nil.
func (c *Cluster) Node(rank int) *Node {
	if rank < 0 || rank >= len(c.nodes) {
		return nil
	}
	return c.nodes[rank]
}

// Nodes returns every participant ordered by rank.
func (c *Cluster) Nodes() []*Node {
	return c.nodes
}

// KillNode closes a participant's transport without stopping its
// coordinator, as if its network went away.
func (c *Cluster) KillNode(rank int) error {
	n := c.Node(rank)
	if n == nil {
		return fmt.Errorf("P%d not found", rank)
	}
	return n.closeTransport()
}

// Stop stops every participant and closes every transport.
func (c *Cluster) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	for _, n := range c.nodes {
		n.closeTransport()
	}
}

// Wait returns the participant's Run result once it has stopped.
func (n *Node) Wait(ctx context.Context) error {
	select {
	case err := <-n.runErr:
		n.runErr <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) closeTransport() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.Transport.Close()
	})
	return err
}
