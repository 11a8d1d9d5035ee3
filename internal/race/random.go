package race

import "math/rand"

// Source supplies uniformly distributed values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// NewSource returns an independently seeded source for one race.
func NewSource(seed int64) Source {
	return rand.New(rand.NewSource(seed))
}

// pick returns an index in [0, n) drawn from src.
func pick(src Source, n int) int {
	if n <= 1 {
		return 0
	}
	idx := int(src.Float64() * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
