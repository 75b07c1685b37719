package game

import (
	"math"

	"github.com/ojrac/opensimplex-go"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

// TerrainSprite is the asset used for generated ground.
var TerrainSprite = state.Sprite{Typ: "terrain", Idx: 1}

// Generator derives terrain height for any column from smooth noise, so
// the same seed always yields the same world.
type Generator struct {
	noise     opensimplex.Noise
	scale     float64
	maxHeight int
}

// NewGenerator creates a generator for seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		noise:     opensimplex.NewNormalized(seed),
		scale:     config.TerrainScale,
		maxHeight: config.MaxTerrainHeight,
	}
}

// Height returns the top layer of column (q, r), in [0, maxHeight).
func (g *Generator) Height(q, r int) int {
	// sample in planar space so the noise is isotropic on the hex grid
	x := (float64(q) + float64(r)/2) * g.scale
	y := float64(r) * math.Sqrt(3) / 2 * g.scale
	z := int(math.Floor(g.noise.Eval2(x, y) * float64(g.maxHeight)))
	return min(max(z, 0), g.maxHeight-1)
}

// Surface returns the generated top tile of h's column.
func (g *Generator) Surface(h hexgrid.Hex) state.TileEntry {
	return state.TileEntry{
		Hex:  h.WithZ(g.Height(h.Q, h.R)),
		Tile: state.TileState{Flags: state.FlagSolid, Sprite: TerrainSprite},
	}
}
