package game

import (
	"math/rand/v2"

	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

// Behaviour decides how a server-controlled actor moves each tick. It
// returns the movement request to submit, or false to stay put.
type Behaviour interface {
	Update(a *Actor, dt float64) (state.ActorState, bool)
}

// Wander walks in a random direction for a short while, rests, then picks
// a new direction.
type Wander struct {
	rng     *rand.Rand
	heading hexgrid.Hex
	// moving is set while a leg is underway so the first rest tick sends
	// one stop.
	moving bool
}

// Wander timing, in seconds.
const (
	wanderLeg  = 0.5
	wanderRest = 2.0
)

// NewWander returns a wander behaviour seeded for reproducibility.
func NewWander(seed uint64) *Wander {
	return &Wander{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Update implements Behaviour.
func (w *Wander) Update(a *Actor, dt float64) (state.ActorState, bool) {
	req := a.State.Clone()

	// airborne actors keep integrating until they land
	if a.State.Airborne() {
		return req, true
	}

	if a.Busy > 0 {
		a.Busy -= dt
		req.Heading = w.heading
		return req, true
	}
	if a.Busy > -wanderRest {
		a.Busy -= dt
		req.Heading = hexgrid.Hex{}
		if w.moving {
			w.moving = false
			return req, true
		}
		return req, false
	}

	w.moving = true
	w.heading = hexgrid.Directions[w.rng.IntN(len(hexgrid.Directions))]
	req.Heading = w.heading
	a.Busy = float64(1+w.rng.IntN(3)) * wanderLeg
	return req, true
}

// NewBehaviour returns the behaviour registered for an actor type, or nil
// when the type is client-controlled.
func NewBehaviour(typ string, seed uint64) Behaviour {
	switch typ {
	case TypeDog:
		return NewWander(seed)
	default:
		return nil
	}
}
