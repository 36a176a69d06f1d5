package ring

import (
	"errors"
	"fmt"
	"sort"
)

// Origin is the rank that injects the seed clock.
const Origin = 0

var (
	// ErrEmptyRing is returned when a ring would have no participants.
	ErrEmptyRing = errors.New("ring has no participants")
	// ErrRankOutOfRange is returned for a rank outside 0..N-1.
	ErrRankOutOfRange = errors.New("rank out of range")
	// ErrDuplicateRank is returned when two nodes claim the same rank.
	ErrDuplicateRank = errors.New("duplicate rank")
)

// Node represents one participant in the ring.
type Node struct {
	Rank int
	Addr string // empty for in-process rings
}

// Ring is a fixed, unidirectional ring of participants indexed by rank.
// It is immutable after construction and safe for concurrent use.
type Ring struct {
	nodes []Node // nodes[i].Rank == i
}

// NewRing builds a ring from the given nodes. Every rank in 0..len(nodes)-1
// must appear exactly once; input order does not matter.
func NewRing(nodes []Node) (*Ring, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyRing
	}

	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Rank < sorted[j].Rank
	})

	for i, node := range sorted {
		if node.Rank < 0 || node.Rank >= len(sorted) {
			return nil, fmt.Errorf("%w: %d (ring size %d)", ErrRankOutOfRange, node.Rank, len(sorted))
		}
		if node.Rank != i {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateRank, node.Rank)
		}
	}

	return &Ring{nodes: sorted}, nil
}

// NewLocal builds an address-less ring of the given size, for participants
// that share one process.
func NewLocal(size int) (*Ring, error) {
	if size <= 0 {
		return nil, ErrEmptyRing
	}
	nodes := make([]Node, size)
	for i := range nodes {
		nodes[i] = Node{Rank: i}
	}
	return &Ring{nodes: nodes}, nil
}

// Size returns the number of participants N.
func (r *Ring) Size() int {
	return len(r.nodes)
}

// Contains reports whether rank is a valid participant.
func (r *Ring) Contains(rank int) bool {
	return rank >= 0 && rank < len(r.nodes)
}

// Node returns the participant with the given rank.
func (r *Ring) Node(rank int) (Node, bool) {
	if !r.Contains(rank) {
		return Node{}, false
	}
	return r.nodes[rank], true
}

// Predecessor returns the rank that sends to rank: (rank-1+N) mod N.
func (r *Ring) Predecessor(rank int) int {
	n := len(r.nodes)
	return ((rank-1)%n + n) % n
}

// Successor returns the rank that rank sends to: (rank+1) mod N.
func (r *Ring) Successor(rank int) int {
	return (rank + 1) % len(r.nodes)
}

// IsOrigin reports whether rank injects the seed clock.
func (r *Ring) IsOrigin(rank int) bool {
	return rank == Origin
}

// GetNodes returns all nodes in rank order.
func (r *Ring) GetNodes() []Node {
	nodes := make([]Node, len(r.nodes))
	copy(nodes, r.nodes)
	return nodes
}
