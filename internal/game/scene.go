// Package game implements the shared simulation: the tile map and actor
// table, hex movement physics, terrain generation, server actor behaviours
// and move validation.
package game

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/logging"
	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/state"
)

// ErrUnknownActor is returned for events naming an actor not in the scene.
var ErrUnknownActor = errors.New("unknown actor")

// Hooks are optional callbacks fired as the scene changes, so a renderer can
// attach and release handles. Nil hooks are skipped.
type Hooks struct {
	TileCreated   func(t *Tile)
	TileRemoved   func(t *Tile)
	ActorLoaded   func(a *Actor)
	ActorUnloaded func(a *Actor)
}

// Scene is the tile map plus actor table. Server and client run the same
// code; the server's copy is authoritative.
//
// A Scene is not safe for concurrent use.
type Scene struct {
	layout  hexgrid.Layout
	physics *Physics
	gen     *Generator
	outline []hexgrid.Px

	tiles  map[hexgrid.Hex]*Tile
	actors map[uint32]*Actor
	rev    uint64

	Hooks Hooks
	log   *zap.Logger
}

// NewScene creates an empty scene. gen may be nil, in which case discovery
// produces flat ground at layer 0.
func NewScene(layout hexgrid.Layout, gen *Generator, log *zap.Logger) *Scene {
	log = logging.OrNop(log)
	return &Scene{
		layout:  layout,
		physics: NewPhysics(layout),
		gen:     gen,
		outline: outline(layout, layout.TileSize, hexgrid.Pointy),
		tiles:   make(map[hexgrid.Hex]*Tile),
		actors:  make(map[uint32]*Actor),
		log:     log,
	}
}

// Layout returns the scene's geometry.
func (s *Scene) Layout() hexgrid.Layout {
	return s.layout
}

// Tile returns the tile at h.
func (s *Scene) Tile(h hexgrid.Hex) (*Tile, bool) {
	t, ok := s.tiles[h]
	return t, ok
}

// Len returns the number of tiles.
func (s *Scene) Len() int {
	return len(s.tiles)
}

// Revision increments on every tile edit.
func (s *Scene) Revision() uint64 {
	return s.rev
}

// Actor returns the actor with id.
func (s *Scene) Actor(id uint32) (*Actor, bool) {
	a, ok := s.actors[id]
	return a, ok
}

// Actors returns all actors ordered by id.
func (s *Scene) Actors() []*Actor {
	out := make([]*Actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *Actor) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// FindBelow returns the tile the actor standing at h looks at: the tile one
// layer up if present, otherwise the first tile at or below h within depth
// layers.
func (s *Scene) FindBelow(h hexgrid.Hex, depth int) (*Tile, bool) {
	if t, ok := s.tiles[h.WithZ(h.Z+1)]; ok {
		return t, true
	}
	for i := 0; i < depth; i++ {
		if t, ok := s.tiles[h.WithZ(h.Z-i)]; ok {
			return t, true
		}
	}
	return nil, false
}

// SpawnPoint returns the standing position on top of the highest solid tile
// in h's column, scanning SpawnScanDepth layers either side of h.Z.
func (s *Scene) SpawnPoint(h hexgrid.Hex) (hexgrid.Px, bool) {
	for z := h.Z + config.SpawnScanDepth; z >= h.Z-config.SpawnScanDepth; z-- {
		top := h.WithZ(z)
		if solidAt(s, top) {
			return s.layout.HexToPixel(top), true
		}
	}
	return hexgrid.Px{}, false
}

// Discover returns the tile changes that materialize every column within
// DiscoverRadius of center that has no tile at its generated height yet. The
// scene is not modified; callers apply the changes they accept.
func (s *Scene) Discover(center hexgrid.Hex) []network.TileChange {
	var out []network.TileChange
	for _, h := range hexgrid.Spiral(center.Column(), config.DiscoverRadius) {
		entry := s.surface(h)
		if _, ok := s.tiles[entry.Hex]; ok {
			continue
		}
		out = append(out, network.TileChange{Hex: entry.Hex, Tile: entry.Tile})
	}
	return out
}

func (s *Scene) surface(h hexgrid.Hex) state.TileEntry {
	if s.gen != nil {
		return s.gen.Surface(h)
	}
	return state.TileEntry{
		Hex:  h.WithZ(0),
		Tile: state.TileState{Flags: state.FlagSolid, Sprite: TerrainSprite},
	}
}

// ApplyTileChange replaces the whole record at ev.Hex. An empty record
// deletes the tile.
func (s *Scene) ApplyTileChange(ev network.TileChange) {
	s.rev++
	if old, ok := s.tiles[ev.Hex]; ok {
		delete(s.tiles, ev.Hex)
		if s.Hooks.TileRemoved != nil {
			s.Hooks.TileRemoved(old)
		}
	}
	if ev.Tile.Empty() {
		return
	}
	t := &Tile{
		Hex:      ev.Hex,
		State:    ev.Tile,
		Collider: NewPolygon(s.layout.HexToPixel(ev.Hex), s.outline),
	}
	s.tiles[ev.Hex] = t
	if s.Hooks.TileCreated != nil {
		s.Hooks.TileCreated(t)
	}
}

// LoadTiles applies a batch of tile records.
func (s *Scene) LoadTiles(entries []state.TileEntry) {
	for _, e := range entries {
		s.ApplyTileChange(network.TileChange{Hex: e.Hex, Tile: e.Tile})
	}
}

// LoadActor adds an actor, or replaces the state of an existing one.
func (s *Scene) LoadActor(st state.ActorState) *Actor {
	if a, ok := s.actors[st.ID]; ok {
		a.State = st.Clone()
		a.Focus = s.focus(a.State)
		return a
	}
	a := &Actor{State: st.Clone()}
	a.Focus = s.focus(a.State)
	s.actors[st.ID] = a
	if s.Hooks.ActorLoaded != nil {
		s.Hooks.ActorLoaded(a)
	}
	return a
}

// UnloadActor removes an actor. It reports whether the actor existed.
func (s *Scene) UnloadActor(id uint32) bool {
	a, ok := s.actors[id]
	if !ok {
		return false
	}
	delete(s.actors, id)
	if s.Hooks.ActorUnloaded != nil {
		s.Hooks.ActorUnloaded(a)
	}
	return true
}

// ApplyActor overwrites an actor's state with st.
func (s *Scene) ApplyActor(st state.ActorState) error {
	a, ok := s.actors[st.ID]
	if !ok {
		return errors.Wrapf(ErrUnknownActor, "actor %d", st.ID)
	}
	a.State = st.Clone()
	a.Focus = s.focus(a.State)
	return nil
}

func (s *Scene) focus(st state.ActorState) hexgrid.Hex {
	return s.layout.PixelToHex(st.Px).Add(st.Heading.Column())
}

// MoveActor resolves one movement request against the map and returns the
// resulting move. The scene is not modified.
func (s *Scene) MoveActor(ev network.ActorMove) (network.ActorMove, error) {
	a, ok := s.actors[ev.Actor.ID]
	if !ok {
		return network.ActorMove{}, errors.Wrapf(ErrUnknownActor, "actor %d", ev.Actor.ID)
	}
	next := s.physics.Step(s, a.State, ev.Actor, ev.Dt)
	return network.ActorMove{Actor: next, Dt: ev.Dt}, nil
}

// Apply performs the effect of an accepted event. Events with no effect on
// the scene are ignored.
func (s *Scene) Apply(ev network.Event) error {
	switch e := ev.(type) {
	case network.ActorMove:
		return s.ApplyActor(e.Actor)
	case network.ActorLoad:
		s.LoadActor(e.Actor)
	case network.ActorUnload:
		if !s.UnloadActor(e.ID) {
			return errors.Wrapf(ErrUnknownActor, "actor %d", e.ID)
		}
	case network.TileChange:
		s.ApplyTileChange(e)
	case network.SceneLoad:
		tiles, err := network.DecodeSceneChunk(e.Data)
		if err != nil {
			return errors.Wrapf(err, "scene chunk %d/%d", e.Chunk+1, e.Chunks)
		}
		s.LoadTiles(tiles)
	case network.ConnectionInit, network.TileDiscover:
	default:
		return errors.Wrapf(network.ErrUnknownEvent, "%T", ev)
	}
	return nil
}

// Entries returns all tiles in a stable order.
func (s *Scene) Entries() []state.TileEntry {
	out := make([]state.TileEntry, 0, len(s.tiles))
	for _, t := range s.tiles {
		out = append(out, t.Entry())
	}
	slices.SortFunc(out, func(a, b state.TileEntry) int {
		return cmp.Or(
			cmp.Compare(a.Hex.Z, b.Hex.Z),
			cmp.Compare(a.Hex.R, b.Hex.R),
			cmp.Compare(a.Hex.Q, b.Hex.Q),
		)
	})
	return out
}

// Snapshot captures the tiles and the server-controlled actors.
func (s *Scene) Snapshot() state.Snapshot {
	snap := state.Snapshot{Version: state.SnapshotVersion, Tiles: s.Entries()}
	for _, a := range s.Actors() {
		if a.IsPlayer() {
			continue
		}
		snap.Actors = append(snap.Actors, a.State.Clone())
	}
	return snap
}

// Restore loads a snapshot into the scene. Player actors are skipped; they
// belong to sessions that no longer exist.
func (s *Scene) Restore(snap state.Snapshot) {
	s.LoadTiles(snap.Tiles)
	for _, st := range snap.Actors {
		if st.Typ == TypePlayer {
			continue
		}
		s.LoadActor(st)
	}
	s.log.Info("scene restored",
		zap.Int("tiles", len(snap.Tiles)),
		zap.Int("actors", len(s.actors)),
	)
}
