package game

import (
	"math"

	"github.com/hexworld/server/internal/hexgrid"
)

// Polygon is a convex outline positioned at Pos. Points are relative to Pos
// so the same outline can be shared and moved cheaply.
type Polygon struct {
	Pos    hexgrid.Px
	Points []hexgrid.Px
}

// NewPolygon places outline at pos.
func NewPolygon(pos hexgrid.Px, outline []hexgrid.Px) Polygon {
	return Polygon{Pos: pos, Points: outline}
}

// At returns a copy of p moved to pos.
func (p Polygon) At(pos hexgrid.Px) Polygon {
	p.Pos = pos
	return p
}

// outline returns a hexagon outline centered on the origin.
func outline(layout hexgrid.Layout, size float64, o hexgrid.Orientation) []hexgrid.Px {
	v := layout.Vertices(hexgrid.Px{}, size, o)
	return v[:]
}

// Overlaps reports whether two convex polygons intersect, by the separating
// axis test on the 2D (x, y) plane. Touching edges do not count.
func Overlaps(a, b Polygon) bool {
	if len(a.Points) < 3 || len(b.Points) < 3 {
		return false
	}
	return !separated(a, b) && !separated(b, a)
}

// separated reports whether one of a's edge normals separates a from b.
func separated(a, b Polygon) bool {
	n := len(a.Points)
	for i := 0; i < n; i++ {
		p0 := a.Points[i]
		p1 := a.Points[(i+1)%n]
		// edge normal
		ax, ay := -(p1.Y - p0.Y), p1.X-p0.X

		amin, amax := project(a, ax, ay)
		bmin, bmax := project(b, ax, ay)
		if amax <= bmin || bmax <= amin {
			return true
		}
	}
	return false
}

func project(p Polygon, ax, ay float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range p.Points {
		d := (p.Pos.X+v.X)*ax + (p.Pos.Y+v.Y)*ay
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}
