package main

import (
	"math/rand/v2"

	"github.com/hexworld/server/internal/client"
)

// Key hold timing, in seconds.
const (
	holdMin   = 0.5
	holdMax   = 2.5
	jumpPress = 0.05
)

const (
	jumpOdds = 0.15 // chance a new errand starts with a jump
	restOdds = 0.3  // chance a new errand is standing still
)

var arrows = []client.Key{client.KeyUp, client.KeyDown, client.KeyLeft, client.KeyRight}

// wanderKeys presses random arrow combinations for random stretches of time,
// now and then jumping.
type wanderKeys struct {
	rng  *rand.Rand
	held client.Keys
	left float64
	jump float64
}

func newWanderKeys(seed uint64) *wanderKeys {
	return &wanderKeys{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		held: client.Keys{},
	}
}

// Update advances the key timers by dt seconds.
func (w *wanderKeys) Update(dt float64) {
	w.left -= dt
	w.jump -= dt
	if w.left > 0 {
		return
	}

	w.held = client.Keys{}
	w.left = holdMin + w.rng.Float64()*(holdMax-holdMin)
	if w.rng.Float64() < jumpOdds {
		w.jump = jumpPress
	}
	if w.rng.Float64() < restOdds {
		return
	}
	w.held[arrows[w.rng.IntN(len(arrows))]] = true
	if w.rng.IntN(2) == 0 {
		w.held[arrows[w.rng.IntN(len(arrows))]] = true
	}
}

// KeyDown implements client.InputState.
func (w *wanderKeys) KeyDown(k client.Key) bool {
	if k == client.KeyJump {
		return w.jump > 0
	}
	return w.held[k]
}
