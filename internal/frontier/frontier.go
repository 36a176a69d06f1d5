package frontier

import (
	"sort"

	"ringclock/internal/clock"
)

// Observation is the clock a participant last reported.
type Observation struct {
	Rank  int
	Clock clock.VectorClock
}

// Result is the outcome of Compute.
type Result struct {
	// Frontier lists the ranks whose clocks no other observation happened
	// after, in rank order. Ranks reporting identical clocks all appear.
	Frontier []int
	// Behind maps each remaining rank to a frontier rank that happened after it.
	Behind map[int]int
	// Concurrent is set when two frontier clocks are concurrent.
	Concurrent bool
}

// Compute partitions obs into the frontier and the ranks behind it.
// Observations with an empty clock are ignored.
func Compute(obs []Observation) Result {
	result := Result{
		Frontier: []int{},
		Behind:   make(map[int]int),
	}

	reported := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if o.Clock.Len() > 0 {
			reported = append(reported, o)
		}
	}

	var front []Observation
	for i, o1 := range reported {
		dominated := false
		for j, o2 := range reported {
			if i != j && o1.Clock.Compare(o2.Clock) == clock.Before {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, o1)
		}
	}

	// The order is finite, so every dominated clock sits below some
	// frontier clock.
	for _, o := range reported {
		for _, f := range front {
			if o.Clock.Compare(f.Clock) == clock.Before {
				result.Behind[o.Rank] = f.Rank
				break
			}
		}
	}

	for i, f1 := range front {
		result.Frontier = append(result.Frontier, f1.Rank)
		for _, f2 := range front[i+1:] {
			if f1.Clock.IsConcurrent(f2.Clock) {
				result.Concurrent = true
			}
		}
	}
	sort.Ints(result.Frontier)
	return result
}
