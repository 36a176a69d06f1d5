package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ringclock/internal/clock"
	"ringclock/internal/config"
	"ringclock/internal/metrics"
	"ringclock/internal/pipeline"
	"ringclock/internal/queue"
	"ringclock/internal/ring"
	"ringclock/internal/storage"
	"ringclock/internal/transport"
)

// Queue names, also used as metric labels.
const (
	IngressQueue = "ingress"
	EgressQueue  = "egress"
)

var (
	// ErrAlreadyStarted is returned by Run while the participant is running.
	ErrAlreadyStarted = errors.New("participant already started")
	// ErrStopped is returned by Run once the participant has stopped or
	// failed, including one stopped before it ever ran.
	ErrStopped = errors.New("participant stopped")
	// ErrNoTransport is returned when Options carries no transport.
	ErrNoTransport = errors.New("participant requires a transport")
)

// State is the lifecycle position of a participant.
type State string

const (
	// StateIdle is a participant that was built but has not run.
	StateIdle State = "idle"
	// StateRunning means Run is executing the stages.
	StateRunning State = "running"
	// StateStopped means Run returned cleanly or Stop came before Run.
	StateStopped State = "stopped"
	// StateFailed means a stage or the seed send failed. Err holds the cause.
	StateFailed State = "failed"
)

// Options configures a RingCoordinator.
type Options struct {
	Rank int
	Ring *ring.Ring
	// Participants is the number of participants actually launched. It must
	// equal the ring size.
	Participants int
	Transport    transport.Transport
	Capacity     int
	Interval     time.Duration
	Tracer       pipeline.Tracer  // nil traces nothing
	Metrics      *metrics.Metrics // nil disables metrics
}

// RingCoordinator is one participant of the ring. It owns the two queues
// and the three pipeline stages, and injects the seed clock when it is the
// origin.
type RingCoordinator struct {
	rank  int
	ring  *ring.Ring
	runID uuid.UUID

	transport transport.Transport
	env       pipeline.Env
	store     *storage.InMemoryStore

	ingressQ *pipeline.Queue
	egressQ  *pipeline.Queue

	ingress *pipeline.IngressWorker
	clock   *pipeline.ClockWorker
	egress  *pipeline.EgressWorker

	mu     sync.Mutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRingCoordinator validates opts and builds the participant. On a
// configuration error nothing is constructed.
func NewRingCoordinator(opts Options) (*RingCoordinator, error) {
	if opts.Ring == nil {
		return nil, fmt.Errorf("%w: no ring", config.ErrRingSize)
	}
	if opts.Participants != opts.Ring.Size() {
		return nil, fmt.Errorf("%w: launched %d, ring size %d", config.ErrParticipantCount, opts.Participants, opts.Ring.Size())
	}
	if !opts.Ring.Contains(opts.Rank) {
		return nil, fmt.Errorf("%w: %d (ring size %d)", config.ErrInvalidRank, opts.Rank, opts.Ring.Size())
	}
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("%w: %d", config.ErrCapacity, opts.Capacity)
	}
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Tracer == nil {
		opts.Tracer = pipeline.NopTracer{}
	}

	store := storage.NewInMemoryStore()
	env := pipeline.Env{
		Rank:     opts.Rank,
		RingSize: opts.Ring.Size(),
		Tracer:   opts.Tracer,
		Metrics:  opts.Metrics.Participant(opts.Rank),
		Store:    store,
	}

	hook := queue.WithWaitHook(func(name string, op queue.Op) {
		if op == queue.OpPut {
			env.Tracer.Eventf(env.Rank, "%s queue full, waiting", name)
		} else {
			env.Tracer.Eventf(env.Rank, "%s queue empty, waiting", name)
		}
		env.Metrics.QueueWait(name, op.String())
	})
	ingressQ := queue.New[clock.VectorClock](IngressQueue, opts.Capacity, hook)
	egressQ := queue.New[clock.VectorClock](EgressQueue, opts.Capacity, hook)

	c := &RingCoordinator{
		rank:      opts.Rank,
		ring:      opts.Ring,
		runID:     uuid.New(),
		transport: opts.Transport,
		env:       env,
		store:     store,
		ingressQ:  ingressQ,
		egressQ:   egressQ,
		ingress:   pipeline.NewIngressWorker(env, opts.Ring.Predecessor(opts.Rank), opts.Transport, ingressQ),
		clock:     pipeline.NewClockWorker(env, ingressQ, egressQ, opts.Interval),
		egress:    pipeline.NewEgressWorker(env, opts.Ring.Successor(opts.Rank), opts.Transport, egressQ, opts.Interval),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
	return c, nil
}

// Rank returns the participant's rank.
func (c *RingCoordinator) Rank() int {
	return c.rank
}

// RunID identifies this participant instance in logs and snapshots.
func (c *RingCoordinator) RunID() uuid.UUID {
	return c.runID
}

// Run seeds the ring when this participant is the origin, then runs the
// three stages until ctx is cancelled or one of them fails. The first
// failure cancels the other stages and is returned. Cancellation is a clean
// stop and yields nil.
func (c *RingCoordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		return ErrAlreadyStarted
	case StateStopped, StateFailed:
		c.mu.Unlock()
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateRunning
	c.mu.Unlock()

	defer close(c.done)
	defer cancel()

	log.Printf("[P%d] Starting participant %s (ring size %d, predecessor P%d, successor P%d)",
		c.rank, c.runID, c.ring.Size(), c.ring.Predecessor(c.rank), c.ring.Successor(c.rank))

	err := c.run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	c.mu.Lock()
	if err != nil {
		c.state = StateFailed
		c.err = err
	} else {
		c.state = StateStopped
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("[P%d] Participant failed: %v", c.rank, err)
	} else {
		log.Printf("[P%d] Participant stopped", c.rank)
	}
	return err
}

func (c *RingCoordinator) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.ingress.Run(gctx) })

	// The seed goes out before the clock and egress stages start.
	if c.ring.IsOrigin(c.rank) {
		if err := c.seed(gctx); err != nil {
			g.Go(func() error { return err })
			return g.Wait()
		}
	}

	g.Go(func() error { return c.clock.Run(gctx) })
	g.Go(func() error { return c.egress.Run(gctx) })
	return g.Wait()
}

func (c *RingCoordinator) seed(ctx context.Context) error {
	vc := clock.Seed(c.ring.Size(), c.rank)
	dest := c.ring.Successor(c.rank)
	if err := pipeline.Send(ctx, c.env, c.transport, dest, vc); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	c.store.Record(storage.StageEgress, vc)
	c.env.Tracer.Clock(c.rank, vc)
	return nil
}

// Stop cancels a running participant and waits for its stages to return.
// Stopping an idle participant prevents it from being run.
func (c *RingCoordinator) Stop() {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.state = StateStopped
		close(c.done)
		c.mu.Unlock()
		return
	case StateRunning:
		c.cancel()
	}
	c.mu.Unlock()
	<-c.done
}

// Done is closed once the participant has stopped.
func (c *RingCoordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure that stopped the participant, if any.
func (c *RingCoordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// QueueStatus describes one pipeline queue.
type QueueStatus struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
	Cap  int    `json:"cap"`
}

// StageClock is the last clock observed at a pipeline stage.
type StageClock struct {
	Stage     storage.Stage `json:"stage"`
	Clock     []int32       `json:"clock"`
	Seq       uint64        `json:"seq"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Snapshot is a point-in-time view of a participant for diagnostics.
type Snapshot struct {
	Rank        int           `json:"rank"`
	RunID       string        `json:"run_id"`
	RingSize    int           `json:"ring_size"`
	Predecessor int           `json:"predecessor"`
	Successor   int           `json:"successor"`
	State       State         `json:"state"`
	Error       string        `json:"error,omitempty"`
	Queues      []QueueStatus `json:"queues"`
	Stages      []StageClock  `json:"stages"`
}

// Snapshot returns the participant's current state.
func (c *RingCoordinator) Snapshot() Snapshot {
	c.mu.Lock()
	state, err := c.state, c.err
	c.mu.Unlock()

	snap := Snapshot{
		Rank:        c.rank,
		RunID:       c.runID.String(),
		RingSize:    c.ring.Size(),
		Predecessor: c.ring.Predecessor(c.rank),
		Successor:   c.ring.Successor(c.rank),
		State:       state,
		Queues: []QueueStatus{
			{Name: c.ingressQ.Name(), Len: c.ingressQ.Len(), Cap: c.ingressQ.Cap()},
			{Name: c.egressQ.Name(), Len: c.egressQ.Len(), Cap: c.egressQ.Cap()},
		},
		Stages: []StageClock{},
	}
	if err != nil {
		snap.Error = err.Error()
	}
	for _, s := range c.store.All() {
		snap.Stages = append(snap.Stages, StageClock{
			Stage:     s.Stage,
			Clock:     s.Clock.Counters(),
			Seq:       s.Seq,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return snap
}

// Clock returns the last clock observed at stage, or nil.
func (c *RingCoordinator) Clock(stage storage.Stage) clock.VectorClock {
	if snap := c.store.Get(stage); snap != nil {
		return snap.Clock
	}
	return nil
}
