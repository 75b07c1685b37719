package game

import (
	"math"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

// Physics resolves actor movement against the tile map. It holds no state of
// its own; elapsed time is always passed in.
type Physics struct {
	layout    hexgrid.Layout
	footprint Polygon
}

// NewPhysics creates a physics engine for layout.
func NewPhysics(layout hexgrid.Layout) *Physics {
	return &Physics{
		layout:    layout,
		footprint: NewPolygon(hexgrid.Px{}, outline(layout, config.ActorFootprint, hexgrid.Flat)),
	}
}

// Step advances cur by dt following the request req. Only the heading, the
// jump request (a grounded request with AirTime == 0) and the clock are taken
// from req; everything else comes from cur.
func (ph *Physics) Step(tiles TileSource, cur, req state.ActorState, dt float64) state.ActorState {
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}

	next := cur.Clone()
	next.Heading = req.Heading
	if req.LastClock > next.LastClock {
		next.LastClock = req.LastClock
	}

	switch {
	case next.AirTime != nil:
		ph.advanceAir(&next, dt)
	case req.AirTime != nil && *req.AirTime == 0:
		next.AirTime = state.Float(0)
		next.AirDz = 0
		next.Falling = false
	}

	if !next.Heading.IsZero() && dt > 0 {
		next.Px = ph.walk(tiles, next, cur.Px, next.Speed*dt)
	}
	ph.settle(tiles, &next, dt)
	return next
}

// riseRate is the vertical speed in layers per second.
func (ph *Physics) riseRate(a state.ActorState) float64 {
	return a.Speed / (ph.layout.Rise * 2)
}

func (ph *Physics) descending(a state.ActorState) bool {
	return a.AirTime != nil && (a.Falling || *a.AirTime*ph.riseRate(a) > a.Vertical)
}

// advanceAir rises linearly until the peak (Vertical layers) and falls at
// the same rate afterwards.
func (ph *Physics) advanceAir(a *state.ActorState, dt float64) {
	t := *a.AirTime + dt
	a.AirTime = &t
	rate := ph.riseRate(*a)
	if ph.descending(*a) {
		a.AirDz -= rate * dt
	} else {
		a.AirDz += rate * dt
	}
}

// walk takes one horizontal step toward the heading target. The footprint is
// tested against solid tiles in the neighbor ring, in the layer band the
// actor's body occupies. Hitting the target itself cancels the step; hitting
// anything else deflects it once, away from the obstacle.
func (ph *Physics) walk(tiles TileSource, a state.ActorState, from hexgrid.Px, step float64) hexgrid.Px {
	hx := ph.layout.PixelToHex(from)
	target := hx.Add(a.Heading.Column())
	targetPx := ph.layout.HexToPixel(target)

	to := ph.advance(from, angle(from, targetPx), step)
	body := ph.footprint.At(to)

	lift := max(0, int(math.Floor(a.AirDz)))
	for _, n := range hx.Neighbors() {
		for dz := 0; dz < a.Height; dz++ {
			t, ok := tiles.Tile(n.WithZ(hx.Z + 1 + lift + dz))
			if !ok || !t.Solid() || !Overlaps(body, t.Collider) {
				continue
			}
			if n.SameColumn(target) {
				return hexgrid.Px{X: from.X, Y: from.Y, Z: to.Z}
			}
			return ph.advance(from, angle(t.Collider.Pos, targetPx), step)
		}
	}
	return to
}

func (ph *Physics) advance(from hexgrid.Px, theta, step float64) hexgrid.Px {
	return hexgrid.Px{
		X: from.X + step*math.Cos(theta),
		Y: from.Y + ph.layout.IsoScale*step*math.Sin(theta),
		Z: from.Z,
	}
}

func angle(from, to hexgrid.Px) float64 {
	return math.Atan2(to.Y-from.Y, to.X-from.X)
}

// settle applies the vertical state machine at the actor's new position.
func (ph *Physics) settle(tiles TileSource, a *state.ActorState, dt float64) {
	h := ph.layout.PixelToHex(a.Px)

	if a.AirTime == nil {
		if !solidAt(tiles, h) {
			// walked off an edge
			a.AirTime = state.Float(0)
			a.AirDz = 0
			a.Falling = true
		}
		return
	}

	// high enough to step onto the column in front
	if a.AirDz > 1 {
		lift := int(math.Floor(a.AirDz))
		if solidAt(tiles, h.WithZ(h.Z+lift)) {
			a.Px.Z += float64(lift)
			a.AirDz -= float64(lift)
		}
	}

	if !ph.descending(*a) || a.AirDz > 0 {
		return
	}
	top := int(math.Ceil(a.AirDz + ph.riseRate(*a)*dt))
	bottom := int(math.Floor(a.AirDz))
	for dz := top; dz > bottom; dz-- {
		if solidAt(tiles, h.WithZ(h.Z+dz)) {
			a.Px.Z = float64(h.Z + dz)
			a.AirDz = 0
			a.AirTime = nil
			a.Falling = false
			return
		}
	}
}
