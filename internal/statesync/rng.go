package statesync

import (
	"math/rand"
)

// RNG is the deterministic random source injected into handlers. The same
// landID and op sequence always draw the same values, which is what makes
// recorded lands replayable.
type RNG struct {
	src *rand.Rand
}

// NewRNG seeds an RNG from a landID.
func NewRNG(landID string) *RNG {
	return &RNG{src: rand.New(rand.NewSource(int64(SeedFromLandID(landID))))}
}

func (r *RNG) Intn(n int) int         { return r.src.Intn(n) }
func (r *RNG) Int63() int64           { return r.src.Int63() }
func (r *RNG) Float64() float64       { return r.src.Float64() }
func (r *RNG) Shuffle(n int, swap func(i, j int)) { r.src.Shuffle(n, swap) }
