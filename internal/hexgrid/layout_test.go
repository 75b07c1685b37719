package hexgrid

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout() Layout {
	return NewLayout(48, 0.75, 36, 1)
}

func TestPixelRoundTrip(t *testing.T) {
	l := testLayout()
	for _, h := range Spiral(Hex{Z: 2}, 12) {
		got := l.PixelToHex(l.HexToPixel(h))
		require.Equal(t, h, got)
	}
}

func TestRoundIsValid(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 5000; i++ {
		q := rng.Float64()*200 - 100
		r := rng.Float64()*200 - 100
		h := Round(q, r, 0)
		assert.Zero(t, h.Q+h.R+h.S())
		// the nearest hex is never more than one step from the truncated guess
		assert.LessOrEqual(t, Distance(h, Hex{Q: int(math.Floor(q)), R: int(math.Floor(r))}), 2)
	}
}

func TestRoundTiesAreOrderIndependent(t *testing.T) {
	// exact midpoints between hexes have equal errors on two components
	cases := [][2]float64{{0.5, 0}, {0, 0.5}, {0.5, -0.5}, {-0.5, 0.5}, {1.5, -0.5}}
	for _, c := range cases {
		a := Round(c[0], c[1], 0)
		b := Round(c[0], c[1], 0)
		assert.Equal(t, a, b)
		assert.Zero(t, a.Q+a.R+a.S())
	}
}

func TestPixelToHexInsideTile(t *testing.T) {
	l := testLayout()
	center := Hex{Q: 2, R: -1}
	c := l.HexToPixel(center)
	// points well inside the outline stay in the tile
	for _, v := range l.Vertices(c, l.TileSize*0.9, Pointy) {
		assert.Equal(t, center, l.PixelToHex(v))
	}
}

func TestHexToPixelOriginAxis(t *testing.T) {
	l := testLayout()
	p := l.HexToPixel(Hex{Q: 1})
	assert.InDelta(t, l.tileWidth(), p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)
	assert.InDelta(t, math.Round(l.tileWidth()), l.tileWidth(), 1e-9, "tile width is integral")

	p = l.HexToPixel(Hex{R: 1, Z: 3})
	assert.InDelta(t, 1.5*0.75*48, p.Y, 1e-9)
	assert.Equal(t, 3.0, p.Z)
}

func TestVertices(t *testing.T) {
	l := testLayout()
	center := Px{X: 10, Y: 20, Z: 1}

	pointy := l.Vertices(center, l.TileSize, Pointy)
	// pointy: corner straight above and below the center
	assert.InDelta(t, center.X, pointy[1].X, 1e-9)
	assert.InDelta(t, center.Y+0.75*48, pointy[1].Y, 1e-9)

	flat := l.Vertices(center, 7, Flat)
	// flat: corner straight to the right
	assert.InDelta(t, center.X+widen(7), flat[0].X, 1e-9)
	assert.InDelta(t, center.Y, flat[0].Y, 1e-9)
	for _, v := range flat {
		assert.Equal(t, center.Z, v.Z)
	}
}

func TestIntoScreenDepthOrder(t *testing.T) {
	l := testLayout()
	front := l.IntoScreen(l.HexToPixel(Hex{R: 0, Z: 1}))
	back := l.IntoScreen(l.HexToPixel(Hex{R: 3, Z: 1}))
	assert.Greater(t, front.Z, back.Z)
	assert.InDelta(t, 36.0, front.Y, 1e-9, "one layer lifts by one rise")
}
