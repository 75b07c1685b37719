// Package client runs the player side of the simulation: it turns held keys
// into predicted moves, asks the server for unexplored terrain and keeps
// render handles in step with the local scene.
package client

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/game"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/logging"
	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/reconcile"
	"github.com/hexworld/server/internal/state"
)

// ErrDisconnected is returned by Tick once the session has ended.
var ErrDisconnected = errors.New("disconnected from server")

// Conn is the client's view of a session.
type Conn interface {
	reconcile.Sender
	Recv() []network.Envelope
	Ended() bool
	Err() error
}

// Client owns the local scene and the predictor feeding it.
//
// A Client is not safe for concurrent use; drive it from one loop.
type Client struct {
	conn   Conn
	scene  *game.Scene
	pred   *reconcile.Predictor
	assets AssetFactory
	render Renderer

	// moving is set while the last sent move had a heading, so releasing
	// the keys sends exactly one stop.
	moving    bool
	focus     hexgrid.Hex
	hasFocus  bool
	requested map[hexgrid.Hex]struct{}

	log *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAssets attaches render collaborators. Without them the client runs
// headless.
func WithAssets(assets AssetFactory, render Renderer) Option {
	return func(c *Client) {
		c.assets = assets
		c.render = render
	}
}

// WithLogger sets the client's logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client over conn with an empty scene.
func New(conn Conn, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		requested: make(map[hexgrid.Hex]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrNop(c.log)
	c.scene = game.NewScene(config.Layout(), nil, c.log)
	if c.assets != nil && c.render != nil {
		c.scene.Hooks = c.hooks()
	}
	c.pred = reconcile.NewPredictor(c.scene, conn, c.log)
	return c
}

// Scene returns the local scene.
func (c *Client) Scene() *game.Scene {
	return c.scene
}

// Predictor returns the client's predictor.
func (c *Client) Predictor() *reconcile.Predictor {
	return c.pred
}

// Start opens the handshake. The scene follows once the server assigns an id.
func (c *Client) Start() {
	c.pred.Request(network.ConnectionInit{})
}

// Tick processes everything the server sent, then applies input for one
// frame of dt seconds. now is the client's clock in seconds and must not go
// backwards between calls.
func (c *Client) Tick(dt, now float64, input InputState) error {
	for _, env := range c.conn.Recv() {
		if err := c.pred.Receive(env); err != nil {
			c.log.Warn("event not applied", zap.Stringer("event", env.Event.Kind()), zap.Error(err))
		}
	}
	if c.conn.Ended() {
		if err := c.conn.Err(); err != nil {
			return errors.Wrap(ErrDisconnected, err.Error())
		}
		return ErrDisconnected
	}

	id, ok := c.pred.ClientID()
	if !ok {
		return nil
	}
	actor, ok := c.scene.Actor(id)
	if !ok {
		return nil
	}

	if ev, send := c.control(actor, dt, now, input); send {
		if err := c.pred.Try(ev); err != nil {
			c.log.Warn("move not predicted", zap.Error(err))
		}
	}
	c.look(actor)
	c.draw()
	return nil
}

// control builds this frame's move, if one is due. Airborne actors keep
// their heading and move every frame until they land.
func (c *Client) control(actor *game.Actor, dt, now float64, input InputState) (network.ActorMove, bool) {
	req := actor.State.Clone()
	req.AirTime = nil
	req.LastClock = now
	ev := network.ActorMove{Actor: req, Dt: dt}

	if actor.State.Airborne() {
		return ev, true
	}
	if input == nil {
		input = Keys(nil)
	}
	if input.KeyDown(KeyJump) {
		ev.Actor.AirTime = state.Float(0)
		return ev, true
	}
	if heading, held := Heading(actor.State.Heading, input); held {
		ev.Actor.Heading = heading
		c.moving = true
		return ev, true
	}
	if c.moving {
		c.moving = false
		ev.Actor.Heading = hexgrid.Hex{}
		return ev, true
	}
	return ev, false
}

// Heading maps the arrow keys to a hex direction. Up and down alone pick
// between two diagonals depending on the side keys and, failing that, on
// which way the actor already faces. held is false when no arrow is down.
func Heading(prev hexgrid.Hex, input InputState) (heading hexgrid.Hex, held bool) {
	up, down := input.KeyDown(KeyUp), input.KeyDown(KeyDown)
	left, right := input.KeyDown(KeyLeft), input.KeyDown(KeyRight)
	prev = hexgrid.Normalize(prev)

	switch {
	case up:
		if left || (!right && facesAny(prev, hexgrid.Hex{Q: -1}, hexgrid.Hex{Q: -1, R: 1}, hexgrid.Hex{Q: 1, R: -1})) {
			return hexgrid.Hex{Q: -1, R: 1}, true
		}
		return hexgrid.Hex{R: 1}, true
	case down:
		if right || (!left && facesAny(prev, hexgrid.Hex{Q: 1}, hexgrid.Hex{Q: 1, R: -1}, hexgrid.Hex{Q: -1, R: 1})) {
			return hexgrid.Hex{Q: 1, R: -1}, true
		}
		return hexgrid.Hex{R: -1}, true
	case right:
		return hexgrid.Hex{Q: 1}, true
	case left:
		return hexgrid.Hex{Q: -1}, true
	}
	return hexgrid.Hex{}, false
}

func facesAny(h hexgrid.Hex, dirs ...hexgrid.Hex) bool {
	for _, d := range dirs {
		if h == d {
			return true
		}
	}
	return false
}

// look asks the server for terrain when the actor faces a column with
// nothing below it. Each column is asked for once.
func (c *Client) look(actor *game.Actor) {
	if c.hasFocus && actor.Focus == c.focus {
		return
	}
	c.focus, c.hasFocus = actor.Focus, true

	if _, found := c.scene.FindBelow(actor.Focus, config.DiscoverRadius); found {
		return
	}
	col := actor.Focus.Column()
	if _, asked := c.requested[col]; asked {
		return
	}
	c.requested[col] = struct{}{}
	c.log.Debug("requesting terrain", zap.Int("q", col.Q), zap.Int("r", col.R))
	c.pred.Request(network.TileDiscover{Hex: col})
}

func (c *Client) hooks() game.Hooks {
	layout := c.scene.Layout()
	return game.Hooks{
		TileCreated: func(t *game.Tile) {
			t.Handle = c.assets.CreateTile(t.State.Sprite, layout.HexToPixel(t.Hex))
			c.render.Place(t.Handle, layout.IntoScreen(layout.HexToPixel(t.Hex)), c.assets.TileScale())
		},
		TileRemoved: func(t *game.Tile) {
			c.render.Release(t.Handle)
		},
		ActorLoaded: func(a *game.Actor) {
			a.Handle = c.assets.CreateActor(a.State.Typ)
		},
		ActorUnloaded: func(a *game.Actor) {
			c.render.Release(a.Handle)
		},
	}
}

// draw moves actor handles to their current screen positions. Tiles are
// placed once when created.
func (c *Client) draw() {
	if c.render == nil {
		return
	}
	layout := c.scene.Layout()
	for _, a := range c.scene.Actors() {
		if a.Handle == nil {
			continue
		}
		px := a.State.Px
		px.Z += a.State.AirDz
		c.render.Place(a.Handle, layout.IntoScreen(px), 1)
	}
}
