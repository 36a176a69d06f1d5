package pipeline

import (
	"context"
	"fmt"
	"time"

	"ringclock/internal/clock"
	"ringclock/internal/metrics"
	"ringclock/internal/queue"
	"ringclock/internal/storage"
	"ringclock/internal/transport"
)

// Queue is the buffer type connecting stages.
type Queue = queue.BoundedQueue[clock.VectorClock]

// Env is what every stage of one participant shares.
type Env struct {
	Rank     int
	RingSize int
	Tracer   Tracer
	Metrics  *metrics.Participant // nil disables metrics
	Store    storage.Store        // nil disables snapshots
}

func (e Env) tracef(format string, args ...interface{}) {
	if e.Tracer != nil {
		e.Tracer.Eventf(e.Rank, format, args...)
	}
}

func (e Env) observe(stage storage.Stage, vc clock.VectorClock) {
	if e.Tracer != nil {
		e.Tracer.Clock(e.Rank, vc)
	}
	if e.Store != nil {
		e.Store.Record(stage, vc)
	}
}

// IngressWorker receives clocks from the predecessor, folds them into its
// private working clock and queues a copy for the clock stage.
type IngressWorker struct {
	env       Env
	source    int
	transport transport.Transport
	out       *Queue
	working   clock.VectorClock
}

// NewIngressWorker creates the ingress stage. Its working clock starts at zero.
func NewIngressWorker(env Env, source int, t transport.Transport, out *Queue) *IngressWorker {
	return &IngressWorker{
		env:       env,
		source:    source,
		transport: t,
		out:       out,
		working:   clock.New(env.RingSize),
	}
}

// Run loops until ctx is done or the transport fails.
func (w *IngressWorker) Run(ctx context.Context) error {
	for {
		w.env.tracef("waiting for message from P%d", w.source)
		received, err := w.transport.Receive(ctx, w.source)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ingress: receive from P%d: %w", w.source, err)
		}
		w.env.Metrics.Received()

		// Receiving is itself a local event.
		if err := w.working.Witness(received, w.env.Rank); err != nil {
			return fmt.Errorf("ingress: merge clock from P%d: %w", w.source, err)
		}
		w.env.Metrics.LocalEvent("ingress")
		w.env.tracef("message received from P%d and clock updated", w.source)
		w.env.observe(storage.StageIngress, w.working)

		if err := w.out.Put(ctx, w.working.Copy()); err != nil {
			return err
		}
		w.env.Metrics.QueueDepth(w.out.Name(), w.out.Len())
		w.env.tracef("ingress stage: clock placed on %s queue", w.out.Name())
	}
}

// ClockWorker records the participant's own local event on every clock
// passing from the ingress queue to the egress queue.
type ClockWorker struct {
	env      Env
	in       *Queue
	out      *Queue
	interval time.Duration
}

// NewClockWorker creates the clock stage. interval is the pause after each
// clock; zero disables it.
func NewClockWorker(env Env, in, out *Queue, interval time.Duration) *ClockWorker {
	return &ClockWorker{env: env, in: in, out: out, interval: interval}
}

// Run loops until ctx is done.
func (w *ClockWorker) Run(ctx context.Context) error {
	for {
		vc, err := w.in.Take(ctx)
		if err != nil {
			return err
		}
		w.env.Metrics.QueueDepth(w.in.Name(), w.in.Len())
		w.env.tracef("clock stage: took clock from %s queue", w.in.Name())

		vc.Increment(w.env.Rank)
		w.env.Metrics.LocalEvent("clock")
		w.env.tracef("clock stage: clock updated")
		w.env.observe(storage.StageClock, vc)

		if err := w.out.Put(ctx, vc); err != nil {
			return err
		}
		w.env.Metrics.QueueDepth(w.out.Name(), w.out.Len())
		w.env.tracef("clock stage: clock placed on %s queue", w.out.Name())

		if err := pause(ctx, w.interval); err != nil {
			return err
		}
	}
}

// EgressWorker forwards clocks from the egress queue to the successor.
type EgressWorker struct {
	env       Env
	dest      int
	transport transport.Transport
	in        *Queue
	interval  time.Duration
}

// NewEgressWorker creates the egress stage.
func NewEgressWorker(env Env, dest int, t transport.Transport, in *Queue, interval time.Duration) *EgressWorker {
	return &EgressWorker{env: env, dest: dest, transport: t, in: in, interval: interval}
}

// Run loops until ctx is done or the transport fails.
func (w *EgressWorker) Run(ctx context.Context) error {
	for {
		vc, err := w.in.Take(ctx)
		if err != nil {
			return err
		}
		w.env.Metrics.QueueDepth(w.in.Name(), w.in.Len())
		w.env.tracef("egress stage: took clock from %s queue", w.in.Name())

		if err := Send(ctx, w.env, w.transport, w.dest, vc); err != nil {
			return err
		}
		w.env.observe(storage.StageEgress, vc)

		if err := pause(ctx, w.interval); err != nil {
			return err
		}
	}
}

// Send hands vc to dest and records the attempt. It is shared by the egress
// stage and by the origin's seed.
func Send(ctx context.Context, env Env, t transport.Transport, dest int, vc clock.VectorClock) error {
	env.tracef("sending clock to P%d", dest)
	start := time.Now()
	err := t.Send(ctx, dest, vc)
	env.Metrics.Sent(time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("egress: send to P%d: %w", dest, err)
	}
	env.Metrics.Clock(vc)
	env.tracef("clock sent to P%d", dest)
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
