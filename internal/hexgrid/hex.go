// Package hexgrid implements axial hex coordinates with a discrete height
// layer and their mapping to isometric pixel space.
package hexgrid

// Hex is an axial hex coordinate plus a layer index.
// The implicit third cube coordinate is S() = -Q-R.
type Hex struct {
	Q int `msgpack:"q"`
	R int `msgpack:"r"`
	Z int `msgpack:"z"`
}

// Directions lists the six unit neighbor offsets in a fixed order.
var Directions = [6]Hex{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// S returns the derived cube coordinate.
func (h Hex) S() int {
	return -h.Q - h.R
}

// Add returns the component-wise sum.
func (h Hex) Add(o Hex) Hex {
	return Hex{Q: h.Q + o.Q, R: h.R + o.R, Z: h.Z + o.Z}
}

// Sub returns the component-wise difference.
func (h Hex) Sub(o Hex) Hex {
	return Hex{Q: h.Q - o.Q, R: h.R - o.R, Z: h.Z - o.Z}
}

// Scale multiplies Q and R by k, leaving the layer untouched.
func (h Hex) Scale(k int) Hex {
	return Hex{Q: h.Q * k, R: h.R * k, Z: h.Z}
}

// WithZ returns the same column at layer z.
func (h Hex) WithZ(z int) Hex {
	h.Z = z
	return h
}

// Column drops the layer, leaving the planar coordinate.
func (h Hex) Column() Hex {
	h.Z = 0
	return h
}

// SameColumn reports whether both hexes share Q and R.
func (h Hex) SameColumn(o Hex) bool {
	return h.Q == o.Q && h.R == o.R
}

// IsZero reports whether h is the zero offset (no heading).
func (h Hex) IsZero() bool {
	return h == Hex{}
}

// IsDirection reports whether h is one of the six unit offsets at layer 0.
func (h Hex) IsDirection() bool {
	for _, d := range Directions {
		if h == d {
			return true
		}
	}
	return false
}

// Neighbors returns the six adjacent hexes on the same layer.
func (h Hex) Neighbors() [6]Hex {
	var out [6]Hex
	for i, d := range Directions {
		out[i] = h.Add(d)
	}
	return out
}

// Distance is the planar hex distance between a and b; layers are ignored.
func Distance(a, b Hex) int {
	dq := a.Q - b.Q
	dr := a.R - b.R
	return (abs(dq) + abs(dq+dr) + abs(dr)) / 2
}

// Normalize reduces h to the unit direction that best approximates it.
// The zero hex stays zero.
func Normalize(h Hex) Hex {
	n := Distance(h, Hex{})
	if n == 0 {
		return Hex{}
	}
	d := Round(float64(h.Q)/float64(n), float64(h.R)/float64(n), 0)
	return d
}

// Spiral returns every hex within radius of center, on center's layer,
// in ring order starting with center itself.
func Spiral(center Hex, radius int) []Hex {
	if radius < 0 {
		return nil
	}
	out := make([]Hex, 0, 1+3*radius*(radius+1))
	out = append(out, center)
	for k := 1; k <= radius; k++ {
		out = append(out, Ring(center, k)...)
	}
	return out
}

// Ring returns the hexes exactly radius steps from center.
func Ring(center Hex, radius int) []Hex {
	if radius <= 0 {
		return []Hex{center}
	}
	out := make([]Hex, 0, 6*radius)
	h := center.Add(Directions[4].Scale(radius))
	for side := 0; side < 6; side++ {
		for step := 0; step < radius; step++ {
			out = append(out, h)
			h = h.Add(Directions[side])
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
