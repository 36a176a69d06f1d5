package storage

import (
	"sync"
	"time"

	"ringclock/internal/clock"
)

// Stage names a point in the pipeline where a clock is observed.
type Stage string

const (
	// StageIngress is the clock right after receive-merge.
	StageIngress Stage = "ingress"
	// StageClock is the clock right after the local event.
	StageClock Stage = "clock"
	// StageEgress is the clock as handed to the transport.
	StageEgress Stage = "egress"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageIngress, StageClock, StageEgress}

// Snapshot is the last clock observed at a stage.
type Snapshot struct {
	Stage     Stage
	Clock     clock.VectorClock
	Seq       uint64 // number of clocks observed at this stage so far
	UpdatedAt time.Time
}

// Store defines the interface for stage snapshots.
type Store interface {
	// Record stores a copy of vc as the latest clock seen at stage.
	Record(stage Stage, vc clock.VectorClock)
	// Get returns the latest snapshot for stage, or nil if none was recorded.
	Get(stage Stage) *Snapshot
	// All returns the recorded snapshots in pipeline order.
	All() []Snapshot
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe and never hands out references to its own clocks.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[Stage]*Snapshot
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[Stage]*Snapshot),
	}
}

// Record stores a copy of vc.
func (s *InMemoryStore) Record(stage Stage, vc clock.VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, exists := s.data[stage]
	if !exists {
		snap = &Snapshot{Stage: stage}
		s.data[stage] = snap
	}
	snap.Clock = vc.Copy()
	snap.Seq++
	snap.UpdatedAt = time.Now()
}

// Get retrieves the snapshot for a stage.
func (s *InMemoryStore) Get(stage Stage) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[stage]
	if !exists {
		return nil
	}

	// Return a copy to avoid external modifications
	out := *snap
	out.Clock = snap.Clock.Copy()
	return &out
}

// All returns copies of every recorded snapshot.
func (s *InMemoryStore) All() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.data))
	for _, stage := range Stages {
		if snap, exists := s.data[stage]; exists {
			c := *snap
			c.Clock = snap.Clock.Copy()
			out = append(out, c)
		}
	}
	return out
}
