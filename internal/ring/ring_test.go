package ring

import (
	"errors"
	"testing"
)

func TestNewRing_SortsByRank(t *testing.T) {
	ring, err := NewRing([]Node{
		{Rank: 2, Addr: "127.0.0.1:50053"},
		{Rank: 0, Addr: "127.0.0.1:50051"},
		{Rank: 1, Addr: "127.0.0.1:50052"},
	})
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}

	if ring.Size() != 3 {
		t.Errorf("Expected size 3, got %d", ring.Size())
	}
	for i, node := range ring.GetNodes() {
		if node.Rank != i {
			t.Errorf("Expected node %d at position %d, got rank %d", i, i, node.Rank)
		}
	}

	node, ok := ring.Node(1)
	if !ok || node.Addr != "127.0.0.1:50052" {
		t.Errorf("Node(1) = %v, %v", node, ok)
	}
}

func TestNewRing_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node
		wantErr error
	}{
		{
			name:    "empty",
			nodes:   nil,
			wantErr: ErrEmptyRing,
		},
		{
			name:    "rank too large",
			nodes:   []Node{{Rank: 0}, {Rank: 2}},
			wantErr: ErrRankOutOfRange,
		},
		{
			name:    "negative rank",
			nodes:   []Node{{Rank: -1}, {Rank: 0}},
			wantErr: ErrRankOutOfRange,
		},
		{
			name:    "duplicate rank",
			nodes:   []Node{{Rank: 0}, {Rank: 0}, {Rank: 1}},
			wantErr: ErrDuplicateRank,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRing(tt.nodes)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewRing() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRing_Neighbours(t *testing.T) {
	ring, err := NewLocal(3)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	tests := []struct {
		rank, pred, succ int
	}{
		{0, 2, 1},
		{1, 0, 2},
		{2, 1, 0},
	}
	for _, tt := range tests {
		if got := ring.Predecessor(tt.rank); got != tt.pred {
			t.Errorf("Predecessor(%d) = %d, want %d", tt.rank, got, tt.pred)
		}
		if got := ring.Successor(tt.rank); got != tt.succ {
			t.Errorf("Successor(%d) = %d, want %d", tt.rank, got, tt.succ)
		}
	}
}

func TestRing_SingleParticipantIsItsOwnNeighbour(t *testing.T) {
	ring, _ := NewLocal(1)
	if ring.Predecessor(0) != 0 || ring.Successor(0) != 0 {
		t.Errorf("Single participant ring should loop back to itself")
	}
}

func TestRing_Origin(t *testing.T) {
	ring, _ := NewLocal(4)
	if !ring.IsOrigin(0) {
		t.Error("Rank 0 should be the origin")
	}
	if ring.IsOrigin(1) {
		t.Error("Rank 1 should not be the origin")
	}
	if ring.Contains(4) || ring.Contains(-1) {
		t.Error("Contains should reject ranks outside 0..N-1")
	}
	if _, ok := ring.Node(4); ok {
		t.Error("Node(4) should not exist in a ring of 4")
	}
}

func TestNewLocal_Empty(t *testing.T) {
	if _, err := NewLocal(0); !errors.Is(err, ErrEmptyRing) {
		t.Errorf("Expected ErrEmptyRing, got %v", err)
	}
}
