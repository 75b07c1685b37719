// Package reconcile layers the try/do protocol over the shared simulation:
// the server's Authority resolves requests into results, and the client's
// Predictor applies its own requests immediately and corrects them when the
// results arrive.
package reconcile

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hexworld/server/internal/game"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/logging"
	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/state"
)

// Target selects who receives an outgoing envelope.
type Target int

const (
	// ToOrigin delivers to the session the request came from.
	ToOrigin Target = iota
	// ToAll delivers to every session. Copies for sessions other than the
	// origin carry no sequence number.
	ToAll
)

// Outgoing is one result produced by the authority.
type Outgoing struct {
	Target Target
	Env    network.Envelope
}

// Authority resolves client requests against the authoritative scene.
//
// An Authority is not safe for concurrent use; the room drives it from its
// tick loop.
type Authority struct {
	scene   *game.Scene
	ac      *game.AntiCheat
	cache   *SceneCache
	lastSeq map[uint32]uint32
	log     *zap.Logger
}

// NewAuthority creates an authority over scene. cache may be nil, in which
// case scene chunks are encoded on every load.
func NewAuthority(scene *game.Scene, cache *SceneCache, log *zap.Logger) *Authority {
	log = logging.OrNop(log)
	return &Authority{
		scene:   scene,
		ac:      game.NewAntiCheat(),
		cache:   cache,
		lastSeq: make(map[uint32]uint32),
		log:     log,
	}
}

// Scene returns the authoritative scene.
func (a *Authority) Scene() *game.Scene {
	return a.scene
}

// Dispatch handles one request from client origin and returns the results
// to deliver. Requests that cannot be honored are logged and produce no
// results.
func (a *Authority) Dispatch(origin uint32, env network.Envelope) []Outgoing {
	log := a.log.With(zap.Uint32("client", origin), zap.Stringer("kind", env.Event.Kind()))

	if env.Seq != nil {
		if last, ok := a.lastSeq[origin]; ok && *env.Seq <= last {
			log.Warn("stale sequence dropped", zap.Uint32("seq", *env.Seq), zap.Uint32("last", last))
			return nil
		}
		a.lastSeq[origin] = *env.Seq
	}

	switch ev := env.Event.(type) {
	case network.ConnectionInit:
		ev.ClientID = origin
		return []Outgoing{reply(origin, ev, env.Seq)}

	case network.SceneLoad:
		out, err := a.loadScene(origin, env.Seq)
		if err != nil {
			log.Error("scene load failed", zap.Error(err))
			return nil
		}
		return out

	case network.TileDiscover:
		changes := a.scene.Discover(ev.Hex)
		out := make([]Outgoing, 0, len(changes))
		for _, c := range changes {
			a.scene.ApplyTileChange(c)
			out = append(out, Outgoing{Target: ToAll, Env: network.Envelope{Event: c}})
		}
		log.Debug("discovered", zap.Int("tiles", len(changes)))
		return out

	case network.TileChange:
		a.scene.ApplyTileChange(ev)
		return []Outgoing{broadcast(origin, ev, env.Seq)}

	case network.ActorMove:
		return a.move(log, origin, ev, env.Seq)

	case network.ActorLoad:
		if ev.Actor.ID != origin {
			log.Warn("load of foreign actor", zap.Uint32("actor", ev.Actor.ID))
			return nil
		}
		if _, exists := a.scene.Actor(ev.Actor.ID); exists {
			log.Warn("load of existing actor", zap.Uint32("actor", ev.Actor.ID))
			return nil
		}
		a.scene.LoadActor(ev.Actor)
		return []Outgoing{broadcast(origin, ev, env.Seq)}

	case network.ActorUnload:
		if ev.ID != origin {
			log.Warn("unload of foreign actor", zap.Uint32("actor", ev.ID))
			return nil
		}
		if !a.scene.UnloadActor(ev.ID) {
			log.Warn("unload of unknown actor", zap.Uint32("actor", ev.ID))
			return nil
		}
		return []Outgoing{broadcast(origin, ev, env.Seq)}

	default:
		log.Warn("unhandled event")
		return nil
	}
}

func (a *Authority) loadScene(origin uint32, seq *uint32) ([]Outgoing, error) {
	chunks, err := a.chunks()
	if err != nil {
		return nil, err
	}
	out := make([]Outgoing, 0, len(chunks)+len(a.scene.Actors())+1)
	for i, data := range chunks {
		ev := network.SceneLoad{Data: data, Chunk: i, Chunks: len(chunks)}
		out = append(out, Outgoing{Target: ToOrigin, Env: network.Envelope{Event: ev, Seq: seq}})
	}
	for _, actor := range a.scene.Actors() {
		if actor.ID() == origin {
			continue
		}
		out = append(out, Outgoing{Target: ToOrigin, Env: network.Envelope{Event: network.ActorLoad{Actor: actor.State.Clone()}}})
	}

	actor, ok := a.scene.Actor(origin)
	if !ok {
		actor = a.scene.LoadActor(game.NewActorState(origin, game.TypePlayer, a.spawnPoint()))
	}
	out = append(out, broadcast(origin, network.ActorLoad{Actor: actor.State.Clone()}, nil))
	return out, nil
}

func (a *Authority) chunks() ([][]byte, error) {
	if a.cache != nil {
		return a.cache.Chunks(a.scene)
	}
	return network.EncodeSceneChunks(a.scene.Entries())
}

func (a *Authority) spawnPoint() hexgrid.Px {
	if px, ok := a.scene.SpawnPoint(hexgrid.Hex{}); ok {
		return px
	}
	return hexgrid.Px{}
}

func (a *Authority) move(log *zap.Logger, origin uint32, ev network.ActorMove, seq *uint32) []Outgoing {
	if ev.Actor.ID != origin {
		log.Warn("move for foreign actor", zap.Uint32("actor", ev.Actor.ID))
		return nil
	}
	actor, ok := a.scene.Actor(ev.Actor.ID)
	if !ok {
		log.Warn("move for unknown actor")
		return nil
	}

	switch res := a.ac.ValidateMove(actor, &ev); res {
	case game.ValidationStale, game.ValidationRejected:
		log.Warn("move refused", zap.Stringer("result", res), zap.Int("violations", actor.Violations))
		// the origin still gets its answer so it can settle its prediction
		correction := network.ActorMove{Actor: actor.State.Clone()}
		return []Outgoing{reply(origin, correction, seq)}
	case game.ValidationClamped:
		log.Debug("move clamped", zap.Float64("dt", ev.Dt))
	}

	res, err := a.scene.MoveActor(ev)
	if err != nil {
		log.Warn("move failed", zap.Error(err))
		return nil
	}
	if err := a.scene.ApplyActor(res.Actor); err != nil {
		log.Warn("move failed", zap.Error(err))
		return nil
	}
	return []Outgoing{broadcast(origin, res, seq)}
}

// Drive resolves a move the server makes on behalf of one of its own actors.
func (a *Authority) Drive(req state.ActorState, dt float64) ([]Outgoing, error) {
	res, err := a.scene.MoveActor(network.ActorMove{Actor: req, Dt: dt})
	if err != nil {
		return nil, err
	}
	if err := a.scene.ApplyActor(res.Actor); err != nil {
		return nil, err
	}
	return []Outgoing{{Target: ToAll, Env: network.Envelope{Event: res}}}, nil
}

// Spawn adds a server-controlled actor at the top of h's column.
func (a *Authority) Spawn(id uint32, typ string, h hexgrid.Hex) (*game.Actor, []Outgoing, error) {
	if _, ok := a.scene.Actor(id); ok {
		return nil, nil, errors.Errorf("actor %d already exists", id)
	}
	px, ok := a.scene.SpawnPoint(h)
	if !ok {
		px = a.scene.Layout().HexToPixel(h)
	}
	actor := a.scene.LoadActor(game.NewActorState(id, typ, px))
	out := []Outgoing{{Target: ToAll, Env: network.Envelope{Event: network.ActorLoad{Actor: actor.State.Clone()}}}}
	return actor, out, nil
}

// Disconnect removes the client's actor and forgets its sequence history.
func (a *Authority) Disconnect(origin uint32) []Outgoing {
	delete(a.lastSeq, origin)
	if !a.scene.UnloadActor(origin) {
		return nil
	}
	return []Outgoing{broadcast(origin, network.ActorUnload{ID: origin}, nil)}
}

// Kicked reports whether the client's actor has exceeded the anti-cheat
// violation limit.
func (a *Authority) Kicked(origin uint32) bool {
	actor, ok := a.scene.Actor(origin)
	return ok && a.ac.Exceeded(actor)
}

func reply(origin uint32, ev network.Event, seq *uint32) Outgoing {
	return Outgoing{Target: ToOrigin, Env: network.Envelope{Client: network.ID(origin), Event: ev, Seq: seq}}
}

func broadcast(origin uint32, ev network.Event, seq *uint32) Outgoing {
	return Outgoing{Target: ToAll, Env: network.Envelope{Client: network.ID(origin), Event: ev, Seq: seq}}
}
