// Package room runs the authoritative server loop: it owns the connected
// sessions, feeds their requests to the authority and routes the results.
package room

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/game"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/logging"
	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/reconcile"
	"github.com/hexworld/server/internal/roster"
	"github.com/hexworld/server/internal/store"
)

// joinBacklog bounds sessions waiting for the next tick.
const joinBacklog = 64

// saveTimeout bounds the final snapshot write on shutdown.
const saveTimeout = 5 * time.Second

// ErrRunning is returned when Run is called on a room that is already running.
var ErrRunning = errors.New("room already running")

// Room is the server's tick loop.
//
// Thread Safety:
// Everything except AddSession and Stats runs on the goroutine calling Run
// (or Tick in tests). Sessions arrive through a buffered channel, and Stats
// reads a copy published at the end of every tick.
type Room struct {
	cfg    *config.ServerConfig
	auth   *reconcile.Authority
	roster *roster.Roster
	store  store.SceneStore

	join  chan *network.Session
	peers map[uint32]*peer
	npcs  []*game.Actor

	tickCount atomic.Uint64
	running   atomic.Bool

	statsMu sync.RWMutex
	stats   Stats

	now func() time.Time
	log *zap.Logger
}

type peer struct {
	id      uint32
	session *network.Session
	limiter *rate.Limiter
	limited uint64
}

// New creates a room. st may be nil to disable persistence.
func New(cfg *config.ServerConfig, auth *reconcile.Authority, st store.SceneStore, log *zap.Logger) *Room {
	log = logging.OrNop(log)
	return &Room{
		cfg:    cfg,
		auth:   auth,
		roster: roster.NewRoster(cfg.MaxPeers),
		store:  st,
		join:   make(chan *network.Session, joinBacklog),
		peers:  make(map[uint32]*peer),
		now:    time.Now,
		log:    log,
	}
}

// AddSession hands a started session to the room. It is safe to call from
// any goroutine; the session is admitted on the next tick.
func (r *Room) AddSession(s *network.Session) {
	select {
	case r.join <- s:
	default:
		r.log.Warn("join backlog full, dropping session", zap.String("session", s.ID()))
		s.Close()
	}
}

// Load restores the scene from the store, falling back to discovering the
// area around the origin, and spawns the configured server actors.
func (r *Room) Load(ctx context.Context) {
	scene := r.auth.Scene()
	if r.store != nil {
		snap, err := r.store.Load(ctx)
		if err != nil {
			r.log.Warn("scene not loaded, generating", zap.Error(err))
		} else {
			scene.Restore(snap)
		}
	}
	if scene.Len() == 0 {
		for _, c := range scene.Discover(hexgrid.Hex{}) {
			scene.ApplyTileChange(c)
		}
		r.log.Info("scene generated", zap.Int("tiles", scene.Len()))
	}

	for _, a := range scene.Actors() {
		if !a.IsPlayer() {
			r.adopt(a)
		}
	}
	for i := 0; len(r.npcs) < r.cfg.NPCs; i++ {
		id := game.NPCBase + uint32(i)
		if _, exists := scene.Actor(id); exists {
			continue
		}
		a, _, err := r.auth.Spawn(id, game.TypeDog, hexgrid.Hex{})
		if err != nil {
			r.log.Warn("spawn failed", zap.Uint32("actor", id), zap.Error(err))
			break
		}
		r.adopt(a)
	}
	r.publish()
}

func (r *Room) adopt(a *game.Actor) {
	if a.Behaviour == nil {
		a.Behaviour = game.NewBehaviour(a.State.Typ, uint64(r.cfg.Seed)+uint64(a.ID()))
	}
	if a.Behaviour != nil {
		r.npcs = append(r.npcs, a)
	}
}

// Run loads the scene and ticks at the configured rate until ctx is
// cancelled, then closes every session and saves the scene.
func (r *Room) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	r.Load(ctx)
	r.log.Info("room started", zap.Int("tick_rate", r.cfg.TickRate))

	ticker := time.NewTicker(time.Second / time.Duration(r.cfg.TickRate))
	defer ticker.Stop()

	last := r.now()
	for {
		select {
		case <-ctx.Done():
			return r.shutdown(ctx)

		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			// Cap delta time so a stalled process does not teleport actors
			if dt > config.MaxTickDelta {
				dt = config.MaxTickDelta
			}
			r.Tick(dt)
		}
	}
}

func (r *Room) shutdown(ctx context.Context) error {
	for _, id := range r.peerIDs() {
		r.peers[id].session.Close()
	}
	r.log.Info("room stopped", zap.Uint64("ticks", r.tickCount.Load()))

	if r.store == nil {
		return nil
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := r.store.Save(saveCtx, r.auth.Scene().Snapshot()); err != nil {
		return errors.Wrap(err, "save scene")
	}
	r.log.Info("scene saved", zap.Int("tiles", r.auth.Scene().Len()))
	return nil
}

// Tick advances the room by dt seconds: admit new sessions, handle every
// request received since the last tick, drive server actors and drop
// sessions that ended.
func (r *Room) Tick(dt float64) {
	r.admit()

	var gone []uint32
	for _, id := range r.peerIDs() {
		p := r.peers[id]
		if p.session.Ended() {
			gone = append(gone, id)
			continue
		}
		for _, env := range p.session.Recv() {
			if !p.limiter.Allow() {
				p.limited++
				continue
			}
			r.route(id, r.auth.Dispatch(id, env))
		}
		if r.auth.Kicked(id) {
			r.log.Warn("client kicked", zap.Uint32("client", id), zap.String("reason", "too many invalid moves"))
			p.session.Close()
			gone = append(gone, id)
		}
	}

	scene := r.auth.Scene()
	live := r.npcs[:0]
	for _, a := range r.npcs {
		// a client may have unloaded it
		if cur, ok := scene.Actor(a.ID()); !ok || cur != a {
			continue
		}
		live = append(live, a)

		req, ok := a.Behaviour.Update(a, dt)
		if !ok {
			continue
		}
		out, err := r.auth.Drive(req, dt)
		if err != nil {
			r.log.Warn("server actor move failed", zap.Uint32("actor", a.ID()), zap.Error(err))
			continue
		}
		r.route(0, out)
	}
	r.npcs = live

	for _, id := range gone {
		r.disconnect(id)
	}

	r.tickCount.Add(1)
	r.publish()
}

func (r *Room) admit() {
	for {
		select {
		case s := <-r.join:
			id, err := r.roster.Admit(s.ID(), s.RemoteAddr(), r.now())
			if err != nil {
				r.log.Warn("session refused", zap.String("session", s.ID()), zap.Error(err))
				s.Close()
				continue
			}
			r.peers[id] = &peer{
				id:      id,
				session: s,
				limiter: rate.NewLimiter(rate.Limit(r.cfg.TryRate), r.cfg.TryBurst),
			}
			r.log.Info("client joined", zap.Uint32("client", id), zap.String("session", s.ID()))
		default:
			return
		}
	}
}

func (r *Room) disconnect(id uint32) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	delete(r.peers, id)
	r.roster.Release(id)
	r.route(id, r.auth.Disconnect(id))

	fields := []zap.Field{zap.Uint32("client", id), zap.Uint64("rate_limited", p.limited)}
	if err := p.session.Err(); err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.log.Info("client left", fields...)
}

// route delivers results. Copies for anyone but the origin carry no
// sequence number, so only the origin reconciles against them.
func (r *Room) route(origin uint32, out []reconcile.Outgoing) {
	for _, o := range out {
		switch o.Target {
		case reconcile.ToOrigin:
			if p, ok := r.peers[origin]; ok {
				p.session.Send(o.Env)
			}
		case reconcile.ToAll:
			stripped := o.Env
			stripped.Seq = nil
			for id, p := range r.peers {
				if id == origin {
					p.session.Send(o.Env)
				} else {
					p.session.Send(stripped)
				}
			}
		}
	}
}

func (r *Room) peerIDs() []uint32 {
	ids := make([]uint32, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stats contains room statistics
type Stats struct {
	Ticks    uint64       `json:"ticks"`
	Tiles    int          `json:"tiles"`
	Revision uint64       `json:"revision"`
	Actors   int          `json:"actors"`
	Roster   roster.Stats `json:"roster"`
	Sessions []PeerStats  `json:"sessions"`
}

// PeerStats are per-client counters.
type PeerStats struct {
	Client      uint32 `json:"client"`
	RateLimited uint64 `json:"rate_limited"`
	network.SessionStats
}

// Stats returns the statistics published by the last tick.
func (r *Room) Stats() Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

func (r *Room) publish() {
	scene := r.auth.Scene()
	s := Stats{
		Ticks:    r.tickCount.Load(),
		Tiles:    scene.Len(),
		Revision: scene.Revision(),
		Actors:   len(scene.Actors()),
		Roster:   r.roster.Stats(),
		Sessions: make([]PeerStats, 0, len(r.peers)),
	}
	for id, p := range r.peers {
		s.Sessions = append(s.Sessions, PeerStats{Client: id, RateLimited: p.limited, SessionStats: p.session.Stats()})
	}
	slices.SortFunc(s.Sessions, func(a, b PeerStats) int { return cmp.Compare(a.Client, b.Client) })

	r.statsMu.Lock()
	r.stats = s
	r.statsMu.Unlock()
}
