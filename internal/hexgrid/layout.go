package hexgrid

import "math"

// Px is a position in isometric render space. Z is a continuous height
// measured in layers.
type Px struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	Z float64 `msgpack:"z"`
}

// Add returns the component-wise sum.
func (p Px) Add(o Px) Px {
	return Px{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Sub returns the component-wise difference.
func (p Px) Sub(o Px) Px {
	return Px{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// Orientation selects the corner phase of a hexagon outline.
type Orientation int

const (
	// Pointy puts a corner at the top; used for tiles.
	Pointy Orientation = iota
	// Flat puts an edge at the top; used for actor footprints.
	Flat
)

func (o Orientation) phase() float64 {
	if o == Pointy {
		return 0.5
	}
	return 0
}

var (
	sqrt3 = math.Sqrt(3)

	// pointy-top forward and inverse matrices
	forward = [4]float64{sqrt3, sqrt3 / 2, 0, 3.0 / 2}
	inverse = [4]float64{sqrt3 / 3, -1.0 / 3, 0, 2.0 / 3}
)

// depthRange normalizes a 16 bit depth into the projection depth range.
const depthRange = 1 << 16

// Layout carries the global transform between hex and pixel space.
type Layout struct {
	TileSize float64
	IsoScale float64
	Rise     float64
	Depth    float64

	// tileSizeW is TileSize widened so a tile spans an integral number of pixels.
	tileSizeW float64
}

// NewLayout builds a layout for the given tile size, iso scale, per-layer
// rise and per-row depth step.
func NewLayout(tileSize, isoScale, rise, depth float64) Layout {
	return Layout{
		TileSize:  tileSize,
		IsoScale:  isoScale,
		Rise:      rise,
		Depth:     depth,
		tileSizeW: widen(tileSize),
	}
}

func widen(size float64) float64 {
	return math.Round(size*sqrt3) / sqrt3
}

// tileWidth is the horizontal pixel span of one tile.
func (l Layout) tileWidth() float64 {
	return l.tileSizeW * sqrt3
}

// HexToPixel returns the pixel center of h. The layer passes through as Z.
func (l Layout) HexToPixel(h Hex) Px {
	q, r := float64(h.Q), float64(h.R)
	return Px{
		X: (forward[0]*q + forward[1]*r) * l.tileSizeW,
		Y: (forward[2]*q + forward[3]*r) * (l.IsoScale * l.TileSize),
		Z: float64(h.Z),
	}
}

// PixelToHex returns the hex containing p. Z is rounded to the nearest layer.
func (l Layout) PixelToHex(p Px) Hex {
	x := p.X / l.tileSizeW
	y := p.Y / (l.IsoScale * l.TileSize)
	q := inverse[0]*x + inverse[1]*y
	r := inverse[2]*x + inverse[3]*y
	return Round(q, r, int(math.Round(p.Z)))
}

// Round snaps fractional axial coordinates to the nearest valid hex. The
// component with the largest rounding error is recomputed from the other two,
// so Q+R+S == 0 always holds. Ties fall through to S, then R, in that order.
func Round(q, r float64, z int) Hex {
	s := -q - r
	rq, rr, rs := math.Round(q), math.Round(r), math.Round(s)
	dq, dr, ds := math.Abs(rq-q), math.Abs(rr-r), math.Abs(rs-s)
	switch {
	case dq > dr && dq > ds:
		rq = -rr - rs
	case dr > ds:
		rr = -rq - rs
	}
	return Hex{Q: int(rq), R: int(rr), Z: z}
}

// Vertices returns the six corners of a hexagon of the given size centered
// at center. The vertical radius is squashed by the iso scale.
func (l Layout) Vertices(center Px, size float64, o Orientation) [6]Px {
	w := l.tileSizeW
	if size != l.TileSize {
		w = widen(size)
	}
	var out [6]Px
	for i := range out {
		angle := 2 * math.Pi * (o.phase() + float64(i)) / 6
		out[i] = Px{
			X: center.X + w*math.Cos(angle),
			Y: center.Y + l.IsoScale*size*math.Sin(angle),
			Z: center.Z,
		}
	}
	return out
}

// IntoScreen lifts p by its layer height and derives a draw depth in Z so
// that rows further back sort behind nearer ones on the same layer.
func (l Layout) IntoScreen(p Px) Px {
	h := l.PixelToHex(p)
	out := Px{
		X: p.X,
		Y: p.Y + p.Z*l.Rise,
		Z: p.Z - float64(h.R)*l.Depth,
	}
	out.Z = out.Z / depthRange * 255
	return out
}
