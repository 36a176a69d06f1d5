package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringclock/internal/clock"
	"ringclock/internal/queue"
	"ringclock/internal/storage"
	"ringclock/internal/transport"
)

type sent struct {
	dest int
	vc   clock.VectorClock
}

// fakeTransport feeds scripted clocks to Receive and records Send calls.
type fakeTransport struct {
	incoming chan clock.VectorClock
	recvErr  error

	mu      sync.Mutex
	sent    []sent
	sentCh  chan sent
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan clock.VectorClock, 16),
		sentCh:   make(chan sent, 16),
	}
}

func (f *fakeTransport) Send(ctx context.Context, dest int, vc clock.VectorClock) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	s := sent{dest: dest, vc: vc.Copy()}
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	f.sentCh <- s
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, src int) (clock.VectorClock, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	select {
	case vc := <-f.incoming:
		return vc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error { return nil }

type participant struct {
	ingress *IngressWorker
	clock   *ClockWorker
	egress  *EgressWorker
	store   *storage.InMemoryStore
}

func newParticipant(rank, size int, tr transport.Transport) *participant {
	store := storage.NewInMemoryStore()
	env := Env{Rank: rank, RingSize: size, Tracer: NopTracer{}, Store: store}
	in := queue.New[clock.VectorClock]("ingress", 10)
	out := queue.New[clock.VectorClock]("egress", 10)
	return &participant{
		ingress: NewIngressWorker(env, (rank-1+size)%size, tr, in),
		clock:   NewClockWorker(env, in, out, 0),
		egress:  NewEgressWorker(env, (rank+1)%size, tr, out, 0),
		store:   store,
	}
}

func (p *participant) run(ctx context.Context) <-chan error {
	errs := make(chan error, 3)
	for _, run := range []func(context.Context) error{p.ingress.Run, p.clock.Run, p.egress.Run} {
		go func(run func(context.Context) error) {
			errs <- run(ctx)
		}(run)
	}
	return errs
}

func TestPipeline_SeedScenario(t *testing.T) {
	tr := newFakeTransport()
	p := newParticipant(1, 3, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := p.run(ctx)

	tr.incoming <- clock.Seed(3, 0)

	select {
	case s := <-tr.sentCh:
		assert.Equal(t, 2, s.dest)
		assert.Equal(t, clock.VectorClock{1, 2, 0}, s.vc)
	case <-time.After(2 * time.Second):
		t.Fatal("participant never forwarded the seed")
	}

	assert.Equal(t, clock.VectorClock{1, 1, 0}, p.store.Get(storage.StageIngress).Clock)
	assert.Equal(t, clock.VectorClock{1, 2, 0}, p.store.Get(storage.StageClock).Clock)
	require.Eventually(t, func() bool {
		snap := p.store.Get(storage.StageEgress)
		return snap != nil && snap.Clock.Equal(clock.VectorClock{1, 2, 0})
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-errs, context.Canceled)
	}
}

func TestPipeline_DownstreamIngressMerge(t *testing.T) {
	// Participant 2 receiving what participant 1 forwarded.
	tr := newFakeTransport()
	p := newParticipant(2, 3, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.run(ctx)

	tr.incoming <- clock.VectorClock{1, 2, 0}

	select {
	case s := <-tr.sentCh:
		assert.Equal(t, 0, s.dest)
		assert.Equal(t, clock.VectorClock{1, 2, 2}, s.vc)
	case <-time.After(2 * time.Second):
		t.Fatal("participant never forwarded")
	}
	assert.Equal(t, clock.VectorClock{1, 2, 1}, p.store.Get(storage.StageIngress).Clock)
}

func TestIngressWorker_WorkingClockPersists(t *testing.T) {
	tr := newFakeTransport()
	out := queue.New[clock.VectorClock]("ingress", 4)
	w := NewIngressWorker(Env{Rank: 1, RingSize: 3}, 0, tr, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	tr.incoming <- clock.VectorClock{1, 0, 0}
	tr.incoming <- clock.VectorClock{3, 0, 1}

	require.Eventually(t, func() bool { return out.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	// LIFO: the most recent clock comes out first.
	newest, err := out.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.VectorClock{3, 2, 1}, newest)

	oldest, err := out.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.VectorClock{1, 1, 0}, oldest)
}

func TestIngressWorker_QueuedClockIsNotAliased(t *testing.T) {
	tr := newFakeTransport()
	out := queue.New[clock.VectorClock]("ingress", 4)
	w := NewIngressWorker(Env{Rank: 0, RingSize: 2}, 1, tr, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	tr.incoming <- clock.VectorClock{0, 1}
	require.Eventually(t, func() bool { return out.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	first, err := out.Take(ctx)
	require.NoError(t, err)

	tr.incoming <- clock.VectorClock{0, 5}
	require.Eventually(t, func() bool { return out.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, clock.VectorClock{1, 1}, first, "later merges must not modify an already queued clock")
}

func TestIngressWorker_TransportFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.recvErr = transport.ErrTransport
	w := NewIngressWorker(Env{Rank: 1, RingSize: 3}, 0, tr, queue.New[clock.VectorClock]("ingress", 1))

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, transport.ErrTransport)
}

func TestIngressWorker_LengthMismatch(t *testing.T) {
	tr := newFakeTransport()
	w := NewIngressWorker(Env{Rank: 1, RingSize: 3}, 0, tr, queue.New[clock.VectorClock]("ingress", 1))
	tr.incoming <- clock.VectorClock{1, 0}

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, clock.ErrLengthMismatch)
}

func TestEgressWorker_TransportFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.sendErr = errors.Join(transport.ErrTransport, errors.New("connection reset"))
	in := queue.New[clock.VectorClock]("egress", 1)
	require.NoError(t, in.Put(context.Background(), clock.New(3)))

	w := NewEgressWorker(Env{Rank: 0, RingSize: 3}, 1, tr, in, 0)
	err := w.Run(context.Background())
	assert.ErrorIs(t, err, transport.ErrTransport)
}

func TestClockWorker_PauseHonoursCancel(t *testing.T) {
	in := queue.New[clock.VectorClock]("ingress", 1)
	out := queue.New[clock.VectorClock]("egress", 1)
	w := NewClockWorker(Env{Rank: 0, RingSize: 2}, in, out, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, in.Put(ctx, clock.New(2)))
	require.Eventually(t, func() bool { return out.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("clock stage kept sleeping after cancel")
	}

	vc, err := out.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clock.VectorClock{1, 0}, vc)
}

func TestLogTracer(t *testing.T) {
	var buf bytes.Buffer
	on := NewLogTracer(&buf, TraceOn)
	on.Eventf(2, "waiting for message from P%d", 1)
	on.Clock(2, clock.VectorClock{1, 2, 1})
	on.Eventf(1, "ingress queue %d%% full", 100)
	on.Eventf(0, "no args")

	out := buf.String()
	assert.Contains(t, out, "[P2] waiting for message from P1")
	assert.Contains(t, out, "[P1] ingress queue 100% full")
	assert.Contains(t, out, "[P0] no args")
	assert.NotContains(t, out, "%!")
	assert.Contains(t, out, "[P2] clock: [1, 2, 1]")

	buf.Reset()
	off := NewLogTracer(&buf, TraceOff)
	off.Eventf(0, "ignored")
	off.Clock(0, clock.New(1))
	assert.Empty(t, buf.String())
}

func TestParseTraceMode(t *testing.T) {
	tests := []struct {
		in      string
		want    TraceMode
		wantErr bool
	}{
		{in: "on", want: TraceOn},
		{in: "ON", want: TraceOn},
		{in: "true", want: TraceOn},
		{in: "off", want: TraceOff},
		{in: "", want: TraceOff},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTraceMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.want.String(), got.String())
	}
}
