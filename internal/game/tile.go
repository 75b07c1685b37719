package game

import (
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

// Tile is one cell of the map at a specific layer.
type Tile struct {
	Hex      hexgrid.Hex
	State    state.TileState
	Collider Polygon
	// Handle is whatever the renderer attached; the simulation ignores it.
	Handle any
}

// Solid reports whether the tile blocks and supports actors.
func (t *Tile) Solid() bool {
	return t != nil && t.State.Solid()
}

// Entry returns the tile as a transferable record.
func (t *Tile) Entry() state.TileEntry {
	return state.TileEntry{Hex: t.Hex, Tile: t.State}
}

// TileSource answers tile lookups for movement resolution.
type TileSource interface {
	Tile(h hexgrid.Hex) (*Tile, bool)
}

func solidAt(tiles TileSource, h hexgrid.Hex) bool {
	t, ok := tiles.Tile(h)
	return ok && t.Solid()
}
