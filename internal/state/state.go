// Package state defines the plain value records shared by the simulation,
// the wire protocol and persistence.
package state

import "github.com/hexworld/server/internal/hexgrid"

// SnapshotVersion is bumped whenever the persisted layout changes.
const SnapshotVersion = 1

// TileFlags is a bit-field of tile properties.
type TileFlags uint32

const (
	// FlagSolid marks a tile as an obstacle and as standable ground.
	FlagSolid TileFlags = 1 << iota
)

// Has reports whether all bits of f are set.
func (t TileFlags) Has(f TileFlags) bool {
	return t&f == f
}

// Sprite names a render asset by type and index. The simulation never
// interprets it beyond "empty means no tile".
type Sprite struct {
	Typ string `msgpack:"t"`
	Idx int    `msgpack:"i"`
}

// TileState is the replicated content of one tile.
type TileState struct {
	Flags  TileFlags `msgpack:"f"`
	Sprite Sprite    `msgpack:"s"`
}

// Empty reports whether the record denotes an absent tile.
func (t TileState) Empty() bool {
	return t.Sprite.Typ == ""
}

// Solid reports whether the tile blocks movement and supports actors.
func (t TileState) Solid() bool {
	return !t.Empty() && t.Flags.Has(FlagSolid)
}

// TileEntry pairs a tile with its position for bulk transfer.
type TileEntry struct {
	Hex  hexgrid.Hex `msgpack:"h"`
	Tile TileState   `msgpack:"t"`
}

// ActorState is the replicated state of one actor. It is what movement
// events carry and what reconciliation replays.
type ActorState struct {
	ID       uint32      `msgpack:"id"`
	Typ      string      `msgpack:"typ"`
	Height   int         `msgpack:"h"` // vertical extent in layers
	Heading  hexgrid.Hex `msgpack:"hd"`
	Speed    float64     `msgpack:"sp"` // px/s
	Vertical float64     `msgpack:"v"`  // peak jump height in layers
	AirDz    float64     `msgpack:"dz"`
	// AirTime is nil while grounded.
	AirTime *float64 `msgpack:"at"`
	// Falling marks an airborne actor that walked off an edge; it descends
	// from the first tick instead of rising first.
	Falling   bool       `msgpack:"f"`
	LastClock float64    `msgpack:"lc"`
	Px        hexgrid.Px `msgpack:"px"`
}

// Airborne reports whether the actor is in the air.
func (a ActorState) Airborne() bool {
	return a.AirTime != nil
}

// Clone returns a copy that shares no pointers with a.
func (a ActorState) Clone() ActorState {
	if a.AirTime != nil {
		t := *a.AirTime
		a.AirTime = &t
	}
	return a
}

// Snapshot is the persisted form of a scene.
type Snapshot struct {
	Version int          `msgpack:"v"`
	Tiles   []TileEntry  `msgpack:"tiles"`
	Actors  []ActorState `msgpack:"actors"`
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 {
	return &v
}
