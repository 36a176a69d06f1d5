package clock

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLengthMismatch is returned when two clocks of different ring sizes are combined.
var ErrLengthMismatch = errors.New("vector clock length mismatch")

// VectorClock is a fixed-length vector of logical counters, one per ring rank.
// Index i holds the counter attributed to participant i.
// Thread-safe operations should be handled by the caller.
type VectorClock []int32

// New creates a zero-initialized vector clock for a ring of n participants.
func New(n int) VectorClock {
	return make(VectorClock, n)
}

// FromCounters creates a vector clock holding a copy of the given counters.
func FromCounters(counters []int32) VectorClock {
	vc := make(VectorClock, len(counters))
	copy(vc, counters)
	return vc
}

// Seed returns the clock injected by the ring origin: every counter is zero
// except the origin's own, which is 1.
func Seed(n, origin int) VectorClock {
	vc := New(n)
	vc[origin] = 1
	return vc
}

// Len returns the ring size the clock was built for.
func (vc VectorClock) Len() int {
	return len(vc)
}

// Get returns the counter for the given rank.
func (vc VectorClock) Get(rank int) int32 {
	return vc[rank]
}

// Counters returns a copy of the raw counters in rank order.
func (vc VectorClock) Counters() []int32 {
	out := make([]int32, len(vc))
	copy(out, vc)
	return out
}

// Increment records a local event for the given rank.
func (vc VectorClock) Increment(rank int) {
	vc[rank]++
}

// Merge merges another vector clock into this one, taking the maximum
// counter value for each rank.
func (vc VectorClock) Merge(other VectorClock) error {
	if len(vc) != len(other) {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(vc), len(other))
	}
	for i, counter := range other {
		if vc[i] < counter {
			vc[i] = counter
		}
	}
	return nil
}

// Witness merges a received clock and then records the receipt itself as a
// local event of self. Both happen as one causal step.
func (vc VectorClock) Witness(received VectorClock, self int) error {
	if err := vc.Merge(received); err != nil {
		return err
	}
	vc.Increment(self)
	return nil
}

// Copy creates a deep copy of the vector clock.
func (vc VectorClock) Copy() VectorClock {
	return FromCounters(vc)
}

// CompareResult represents the result of comparing two vector clocks.
type CompareResult int

const (
	// Before indicates this clock happened before the other.
	Before CompareResult = iota
	// After indicates this clock happened after the other.
	After
	// Concurrent indicates the clocks are concurrent (no causal relationship).
	Concurrent
	// Equal indicates the clocks are equal.
	Equal
)

// String returns the string representation of CompareResult.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "BEFORE"
	case After:
		return "AFTER"
	case Concurrent:
		return "CONCURRENT"
	case Equal:
		return "EQUAL"
	default:
		return "UNKNOWN"
	}
}

// Compare compares two vector clocks and returns their relationship.
// Returns:
//   - Equal: if all counters are equal
//   - Before: if this clock happened before other (all counters <=, at least one <)
//   - After: if this clock happened after other (all counters >=, at least one >)
//   - Concurrent: if neither dominates (some counters are greater, some are less)
//
// Clocks of different lengths are compared as if the shorter one were padded
// with zeros.
func (vc VectorClock) Compare(other VectorClock) CompareResult {
	n := len(vc)
	if len(other) > n {
		n = len(other)
	}

	var thisLess, thisGreater bool
	for i := 0; i < n; i++ {
		thisVal, otherVal := at(vc, i), at(other, i)
		if thisVal < otherVal {
			thisLess = true
		} else if thisVal > otherVal {
			thisGreater = true
		}
	}

	switch {
	case !thisLess && !thisGreater:
		return Equal
	case thisLess && !thisGreater:
		return Before
	case thisGreater && !thisLess:
		return After
	}
	return Concurrent
}

func at(vc VectorClock, i int) int32 {
	if i < len(vc) {
		return vc[i]
	}
	return 0
}

// Equal checks if two vector clocks are equal.
func (vc VectorClock) Equal(other VectorClock) bool {
	if len(vc) != len(other) {
		return false
	}
	for i, counter := range vc {
		if other[i] != counter {
			return false
		}
	}
	return true
}

// Dominates returns true if this clock dominates (happened after) the other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	return vc.Compare(other) == After
}

// IsConcurrent returns true if this clock is concurrent with the other.
func (vc VectorClock) IsConcurrent(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// String returns the clock in rank order, e.g. "[1, 2, 0]".
func (vc VectorClock) String() string {
	parts := make([]string, len(vc))
	for i, c := range vc {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
