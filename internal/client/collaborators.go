package client

import (
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

// Key names the inputs the client reacts to.
type Key int

// Keys
const (
	KeyUp Key = iota
	KeyDown
	KeyLeft
	KeyRight
	KeyJump
)

// InputState reports which keys are held right now.
type InputState interface {
	KeyDown(k Key) bool
}

// AssetFactory creates render handles. The client never looks inside them.
type AssetFactory interface {
	CreateTile(sprite state.Sprite, at hexgrid.Px) any
	CreateActor(typ string) any
	// TileScale is the draw scale for tile sprites.
	TileScale() float64
}

// Renderer positions and releases handles made by an AssetFactory.
type Renderer interface {
	Place(handle any, screen hexgrid.Px, scale float64)
	Release(handle any)
}

// Keys is an InputState backed by a set, for scripted input.
type Keys map[Key]bool

// KeyDown implements InputState.
func (k Keys) KeyDown(key Key) bool {
	return k[key]
}
