package distribute

import (
	"math"
	"math/rand/v2"
)

// Options tunes a distribution pass.
type Options struct {
	// Seed drives the random strategy. Callers that want a fresh shuffle
	// per layout pass derive a new seed per pass.
	Seed uint64

	// Weights, if non-nil, makes the balanced strategy balance accumulated
	// weight (for example item heights) instead of item counts. Non-finite
	// or non-positive weights count as 1.
	Weights func(i int) float64
}

// Assignment maps item index to column index.
type Assignment []int

// Counts returns the number of items per column.
func (a Assignment) Counts(columns int) []int {
	counts := make([]int, max(columns, 1))
	for _, c := range a {
		if c >= 0 && c < len(counts) {
			counts[c]++
		}
	}
	return counts
}

// NewRand returns the PCG source used by the random strategy for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
}

// Order returns the column visiting order for a cyclic strategy.
// rng is only consulted for [Random]; nil uses seed 0. Unknown strategies
// and [Balanced] fall back to left-to-right order.
func Order(columns int, s Strategy, rng *rand.Rand) []int {
	columns = max(columns, 1)
	switch s {
	case RightToLeft:
		order := make([]int, columns)
		for i := range order {
			order[i] = columns - 1 - i
		}
		return order
	case CenterOut:
		return centerOut(columns)
	case Random:
		if rng == nil {
			rng = NewRand(0)
		}
		return rng.Perm(columns)
	default:
		order := make([]int, columns)
		for i := range order {
			order[i] = i
		}
		return order
	}
}

func centerOut(columns int) []int {
	// For even counts the center is the left of the two middle columns,
	// so 2 columns give [0 1] and 4 give [1 2 0 3].
	center := (columns - 1) / 2
	order := make([]int, 0, columns)
	order = append(order, center)
	for k := 1; len(order) < columns; k++ {
		if center+k < columns {
			order = append(order, center+k)
		}
		if center-k >= 0 {
			order = append(order, center-k)
		}
	}
	return order
}

// Assign places n items into columns using strategy s.
// The result has length n (zero when n <= 0) and every entry lies in
// [0, columns).
func Assign(n, columns int, s Strategy, opts Options) Assignment {
	columns = max(columns, 1)
	if n <= 0 {
		return Assignment{}
	}
	if s == Balanced {
		return balanced(n, columns, opts.Weights)
	}

	var rng *rand.Rand
	if s == Random {
		rng = NewRand(opts.Seed)
	}
	order := Order(columns, s, rng)
	out := make(Assignment, n)
	for i := range out {
		out[i] = order[i%columns]
	}
	return out
}

func balanced(n, columns int, weights func(int) float64) Assignment {
	load := make([]float64, columns)
	out := make(Assignment, n)
	for i := range out {
		best := 0
		for c := 1; c < columns; c++ {
			if load[c] < load[best] {
				best = c
			}
		}
		out[i] = best
		load[best] += weight(weights, i)
	}
	return out
}

func weight(weights func(int) float64, i int) float64 {
	if weights == nil {
		return 1
	}
	w := weights(i)
	if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
		return 1
	}
	return w
}

// Distribute splits items into per-column sequences according to s.
// It always returns exactly max(columns, 1) slices; items keep their input
// order within each column.
func Distribute[T any](items []T, columns int, s Strategy, opts Options) [][]T {
	columns = max(columns, 1)
	assignment := Assign(len(items), columns, s, opts)

	counts := assignment.Counts(columns)
	out := make([][]T, columns)
	for c := range out {
		out[c] = make([]T, 0, counts[c])
	}
	for i, c := range assignment {
		out[c] = append(out[c], items[i])
	}
	return out
}
