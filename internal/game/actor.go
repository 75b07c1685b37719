package game

import (
	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

// Actor types
const (
	TypePlayer = "player"
	TypeDog    = "dog"
)

// NPCBase is the first actor id used for server-controlled actors. Client
// ids stay below it.
const NPCBase uint32 = 1 << 24

// Actor is a moving entity in the scene.
type Actor struct {
	State state.ActorState

	// Focus is the hex the actor is looking at (its hex plus heading).
	Focus hexgrid.Hex

	// Behaviour drives server-controlled actors; nil for players.
	Behaviour Behaviour
	// Busy counts down the remaining time of the behaviour's current errand.
	Busy float64

	// Violations counts rejected moves for anti-cheat.
	Violations int

	// Handle is whatever the renderer attached; the simulation ignores it.
	Handle any
}

// NewActorState returns a grounded actor of typ at px with default
// movement parameters.
func NewActorState(id uint32, typ string, px hexgrid.Px) state.ActorState {
	return state.ActorState{
		ID:       id,
		Typ:      typ,
		Height:   config.DefaultHeight,
		Speed:    config.DefaultSpeed,
		Vertical: config.DefaultVertical,
		Px:       px,
	}
}

// ID returns the actor's id.
func (a *Actor) ID() uint32 {
	return a.State.ID
}

// IsPlayer reports whether a client controls the actor.
func (a *Actor) IsPlayer() bool {
	return a.State.Typ == TypePlayer
}
