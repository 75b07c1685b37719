package reconcile

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hexworld/server/internal/game"
	"github.com/hexworld/server/internal/logging"
	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/state"
)

// Sender delivers envelopes to the server. *network.Session implements it.
type Sender interface {
	Send(env network.Envelope)
}

// attempt is a request applied locally and not yet confirmed.
type attempt struct {
	seq uint32
	ev  network.Event
	// for moves: the actor before and after the predicted step
	before, after state.ActorState
}

// Predictor is the client side of reconciliation. Requests are applied to
// the local scene immediately and kept until the server answers them; every
// answer resets the local state to the server's and replays what is still
// outstanding on top.
type Predictor struct {
	scene   *game.Scene
	out     Sender
	client  *uint32
	next    uint32
	pending []attempt
	log     *zap.Logger
}

// NewPredictor creates a predictor applying to scene and sending to out.
func NewPredictor(scene *game.Scene, out Sender, log *zap.Logger) *Predictor {
	log = logging.OrNop(log)
	return &Predictor{scene: scene, out: out, log: log}
}

// ClientID returns the id the server assigned, once the handshake is done.
func (p *Predictor) ClientID() (uint32, bool) {
	if p.client == nil {
		return 0, false
	}
	return *p.client, true
}

// Pending returns the number of unconfirmed requests.
func (p *Predictor) Pending() int {
	return len(p.pending)
}

// Scene returns the local scene.
func (p *Predictor) Scene() *game.Scene {
	return p.scene
}

// Try applies ev locally and sends it with the next sequence number. A move
// that cannot be resolved locally is not sent.
func (p *Predictor) Try(ev network.Event) error {
	seq := p.next
	at := attempt{seq: seq, ev: ev}

	if mv, ok := ev.(network.ActorMove); ok {
		actor, found := p.scene.Actor(mv.Actor.ID)
		if !found {
			return errors.Wrapf(game.ErrUnknownActor, "actor %d", mv.Actor.ID)
		}
		res, err := p.scene.MoveActor(mv)
		if err != nil {
			return err
		}
		at.before = actor.State.Clone()
		at.after = res.Actor.Clone()
		if err := p.scene.ApplyActor(res.Actor); err != nil {
			return err
		}
	} else if err := p.scene.Apply(ev); err != nil {
		return err
	}

	p.next++
	p.pending = append(p.pending, at)
	p.out.Send(network.Envelope{Client: p.client, Event: ev, Seq: network.ID(seq)})
	return nil
}

// Request sends ev without predicting it.
func (p *Predictor) Request(ev network.Event) {
	p.out.Send(network.Envelope{Client: p.client, Event: ev})
}

// Receive applies one envelope from the server.
func (p *Predictor) Receive(env network.Envelope) error {
	if env.Seq != nil && p.client != nil && env.FromClient(*p.client) {
		return p.acknowledge(*env.Seq, env.Event)
	}

	if err := p.scene.Apply(env.Event); err != nil {
		return errors.Wrapf(err, "apply %s", env.Event.Kind())
	}
	if ev, ok := env.Event.(network.ConnectionInit); ok {
		p.client = network.ID(ev.ClientID)
		p.log.Info("connected", zap.Uint32("client", ev.ClientID))
		p.Request(network.SceneLoad{})
	}
	return nil
}

func (p *Predictor) acknowledge(seq uint32, ev network.Event) error {
	if len(p.pending) == 0 || seq < p.pending[0].seq {
		p.log.Debug("stale ack ignored", zap.Uint32("seq", seq))
		return nil
	}
	for len(p.pending) > 0 && p.pending[0].seq <= seq {
		if p.pending[0].seq < seq {
			p.log.Warn("skipping unanswered request", zap.Uint32("seq", p.pending[0].seq))
		}
		p.pending = p.pending[1:]
	}

	if mv, ok := ev.(network.ActorMove); ok {
		mv.Dt = 0
		ev = mv
	}
	if err := p.scene.Apply(ev); err != nil {
		return errors.Wrapf(err, "apply ack %d", seq)
	}
	return p.replay()
}

// replay re-applies outstanding requests on top of the corrected state.
// Moves carry over their predicted effect rather than being re-simulated,
// so replaying never moves an actor further than it was predicted to go.
func (p *Predictor) replay() error {
	for _, at := range p.pending {
		mv, ok := at.ev.(network.ActorMove)
		if !ok {
			if err := p.scene.Apply(at.ev); err != nil {
				return errors.Wrapf(err, "replay %d", at.seq)
			}
			continue
		}

		actor, found := p.scene.Actor(mv.Actor.ID)
		if !found {
			continue
		}
		next := actor.State.Clone()
		next.Px = next.Px.Add(at.after.Px.Sub(at.before.Px))
		next.Heading = at.after.Heading
		next.AirDz = at.after.AirDz
		next.AirTime = at.after.Clone().AirTime
		next.Falling = at.after.Falling
		next.LastClock = at.after.LastClock
		if err := p.scene.ApplyActor(next); err != nil {
			return errors.Wrapf(err, "replay %d", at.seq)
		}
	}
	return nil
}
