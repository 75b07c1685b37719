package network

import (
	"fmt"

	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/state"
)

// EventKind tags an Event on the wire.
type EventKind uint8

// Event kinds
const (
	KindActorMove      EventKind = 0x01
	KindActorLoad      EventKind = 0x02
	KindActorUnload    EventKind = 0x03
	KindConnectionInit EventKind = 0x10
	KindSceneLoad      EventKind = 0x11
	KindTileChange     EventKind = 0x20
	KindTileDiscover   EventKind = 0x21
)

func (k EventKind) String() string {
	switch k {
	case KindActorMove:
		return "actor_move"
	case KindActorLoad:
		return "actor_load"
	case KindActorUnload:
		return "actor_unload"
	case KindConnectionInit:
		return "connection_init"
	case KindSceneLoad:
		return "scene_load"
	case KindTileChange:
		return "tile_change"
	case KindTileDiscover:
		return "tile_discover"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// Event is the closed set of messages exchanged between client and server.
// The same value travels as a request (try) and as a result (do); the
// direction is implied by who sends it.
type Event interface {
	Kind() EventKind
	isEvent()
}

// ActorMove asks for (or reports) one movement step of an actor.
type ActorMove struct {
	Actor state.ActorState `msgpack:"a"`
	Dt    float64          `msgpack:"dt"`
}

// ActorLoad introduces an actor.
type ActorLoad struct {
	Actor state.ActorState `msgpack:"a"`
}

// ActorUnload removes an actor.
type ActorUnload struct {
	ID uint32 `msgpack:"id"`
}

// ConnectionInit is the handshake; the server fills in the client id.
type ConnectionInit struct {
	ClientID uint32 `msgpack:"cid"`
}

// SceneLoad carries one compressed chunk of the tile map.
type SceneLoad struct {
	Data   []byte `msgpack:"d"`
	Chunk  int    `msgpack:"c"`
	Chunks int    `msgpack:"n"`
}

// TileChange replaces a whole tile record; an empty record deletes.
type TileChange struct {
	Hex  hexgrid.Hex     `msgpack:"h"`
	Tile state.TileState `msgpack:"t"`
}

// TileDiscover asks the server to materialize the area around Hex.
type TileDiscover struct {
	Hex hexgrid.Hex `msgpack:"h"`
}

func (ActorMove) Kind() EventKind      { return KindActorMove }
func (ActorLoad) Kind() EventKind      { return KindActorLoad }
func (ActorUnload) Kind() EventKind    { return KindActorUnload }
func (ConnectionInit) Kind() EventKind { return KindConnectionInit }
func (SceneLoad) Kind() EventKind      { return KindSceneLoad }
func (TileChange) Kind() EventKind     { return KindTileChange }
func (TileDiscover) Kind() EventKind   { return KindTileDiscover }

func (ActorMove) isEvent()      {}
func (ActorLoad) isEvent()      {}
func (ActorUnload) isEvent()    {}
func (ConnectionInit) isEvent() {}
func (SceneLoad) isEvent()      {}
func (TileChange) isEvent()     {}
func (TileDiscover) isEvent()   {}

// Envelope is one framed payload: the originating client (nil when the
// server originated the event), the event, and the sender's sequence number
// (nil when the event is not subject to reconciliation).
type Envelope struct {
	Client *uint32
	Event  Event
	Seq    *uint32
}

// ID returns a pointer to v, for the optional envelope fields.
func ID(v uint32) *uint32 {
	return &v
}

// FromClient reports whether the envelope originated at client id.
func (e Envelope) FromClient(id uint32) bool {
	return e.Client != nil && *e.Client == id
}
