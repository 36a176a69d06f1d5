package node

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ringclock/internal/codec"
	"ringclock/internal/config"
	"ringclock/internal/metrics"
	"ringclock/internal/pipeline"
	"ringclock/internal/ring"
	"ringclock/internal/transport"
	"ringclock/internal/transport/local"
)

// LocalOptions configures a ring whose participants share one process.
type LocalOptions struct {
	RingSize     int
	Participants int
	Codec        codec.Codec
	Capacity     int
	Interval     time.Duration
	SendTimeout  time.Duration
	RecvTimeout  time.Duration
	Tracer       pipeline.Tracer
	Metrics      *metrics.Metrics
}

// LocalRing runs every participant of a ring in-process over a local
// network.
type LocalRing struct {
	network      *local.Network
	participants []*RingCoordinator
}

// NewLocalRing builds opts.Participants coordinators. The participant count
// is checked against the ring size before any of them is built.
func NewLocalRing(opts LocalOptions) (*LocalRing, error) {
	r, err := ring.NewLocal(opts.RingSize)
	if err != nil {
		return nil, err
	}
	if opts.Participants != r.Size() {
		return nil, fmt.Errorf("%w: launched %d, ring size %d", config.ErrParticipantCount, opts.Participants, r.Size())
	}

	network := local.NewNetwork(r.Size(), transport.DefaultInboxSize, opts.Codec)
	participants := make([]*RingCoordinator, 0, r.Size())
	for _, n := range r.GetNodes() {
		endpoint, err := network.Endpoint(n.Rank)
		if err != nil {
			network.Close()
			return nil, err
		}
		c, err := NewRingCoordinator(Options{
			Rank:         n.Rank,
			Ring:         r,
			Participants: opts.Participants,
			Transport:    transport.WithTimeouts(endpoint, opts.SendTimeout, opts.RecvTimeout),
			Capacity:     opts.Capacity,
			Interval:     opts.Interval,
			Tracer:       opts.Tracer,
			Metrics:      opts.Metrics,
		})
		if err != nil {
			network.Close()
			return nil, err
		}
		participants = append(participants, c)
	}

	return &LocalRing{network: network, participants: participants}, nil
}

// Participants returns the coordinators ordered by rank.
func (l *LocalRing) Participants() []*RingCoordinator {
	return l.participants
}

// Run runs every participant until ctx is cancelled or one of them fails,
// in which case the others are stopped and the failure is returned.
func (l *LocalRing) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range l.participants {
		g.Go(func() error {
			if err := p.Run(gctx); err != nil {
				return fmt.Errorf("P%d: %w", p.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Snapshots returns a snapshot of every participant.
func (l *LocalRing) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(l.participants))
	for _, p := range l.participants {
		out = append(out, p.Snapshot())
	}
	return out
}

// Close stops every participant and tears the network down.
func (l *LocalRing) Close() error {
	for _, p := range l.participants {
		p.Stop()
	}
	return l.network.Close()
}
