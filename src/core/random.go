package core

import (
	"math/rand"
	"sync"
)

// Random is a seeded random source safe for concurrent use. All randomness of
// an experiment flows through one Random so that sequential runs are
// reproducible for a fixed seed.
type Random struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRandom creates a Random seeded with seed.
func NewRandom(seed int64) *Random {
	return &Random{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the seed the source was created with.
func (r *Random) Seed() int64 {
	return r.seed
}

// Int63 ...
func (r *Random) Int63() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63()
}

// Int63n ...
func (r *Random) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Intn ...
func (r *Random) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 ...
func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Perm ...
func (r *Random) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// Shuffle ...
func (r *Random) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(n, swap)
}
