package room

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/game"
	"github.com/hexworld/server/internal/hexgrid"
	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/reconcile"
	"github.com/hexworld/server/internal/state"
)

const waitFor = 3 * time.Second

type memStore struct {
	mu    sync.Mutex
	snap  state.Snapshot
	err   error
	saved []state.Snapshot
}

func (m *memStore) Load(context.Context) (state.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.err
}

func (m *memStore) Save(_ context.Context, snap state.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, snap)
	return nil
}

func (m *memStore) lastSaved() (state.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return state.Snapshot{}, false
	}
	return m.saved[len(m.saved)-1], true
}

func testConfig() *config.ServerConfig {
	cfg := config.DefaultServerConfig()
	cfg.NPCs = 0
	return cfg
}

func newRoom(t *testing.T, cfg *config.ServerConfig, st *memStore) *Room {
	t.Helper()
	auth := reconcile.NewAuthority(game.NewScene(config.Layout(), nil, nil), nil, nil)
	if st == nil {
		return New(cfg, auth, nil, nil)
	}
	return New(cfg, auth, st, nil)
}

type testClient struct {
	session *network.Session
	p       *reconcile.Predictor
	seen    []network.Envelope
}

func (c *testClient) pump(t *testing.T) {
	for _, env := range c.session.Recv() {
		c.seen = append(c.seen, env)
		assert.NoError(t, c.p.Receive(env))
	}
}

func (c *testClient) id() uint32 {
	id, _ := c.p.ClientID()
	return id
}

func (c *testClient) ready() bool {
	id, ok := c.p.ClientID()
	if !ok {
		return false
	}
	_, ok = c.p.Scene().Actor(id)
	return ok && c.p.Scene().Len() > 0
}

func connect(t *testing.T, r *Room) *testClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, b := net.Pipe()
	server := network.NewSession(a, network.WithGreeting(), network.WithSyncIdle(time.Millisecond))
	client := network.NewSession(b, network.WithSyncIdle(time.Millisecond))
	server.Start(ctx)
	client.Start(ctx)
	t.Cleanup(func() {
		cancel()
		server.Close()
		client.Close()
	})

	r.AddSession(server)
	c := &testClient{session: client}
	c.p = reconcile.NewPredictor(game.NewScene(config.Layout(), nil, nil), client, nil)
	c.p.Request(network.ConnectionInit{})
	return c
}

// until ticks the room and pumps clients until cond holds.
func until(t *testing.T, r *Room, cond func() bool, clients ...*testClient) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.Tick(0.05)
		for _, c := range clients {
			c.pump(t)
		}
		return cond()
	}, waitFor, 2*time.Millisecond)
}

func TestJoinLoadsScene(t *testing.T) {
	r := newRoom(t, testConfig(), nil)
	r.Load(context.Background())
	c := connect(t, r)

	until(t, r, c.ready, c)

	assert.Equal(t, uint32(1), c.id())
	assert.Equal(t, 91, c.p.Scene().Len())
	assert.Equal(t, r.auth.Scene().Entries(), c.p.Scene().Entries())

	stats := r.Stats()
	assert.Equal(t, 1, stats.Roster.Clients)
	assert.Equal(t, 91, stats.Tiles)
	assert.Equal(t, 1, stats.Actors)
	require.Len(t, stats.Sessions, 1)
	assert.Positive(t, stats.Sessions[0].FramesIn)
}

func TestMovesReachOtherClients(t *testing.T) {
	r := newRoom(t, testConfig(), nil)
	r.Load(context.Background())
	c1, c2 := connect(t, r), connect(t, r)
	until(t, r, func() bool { return c1.ready() && c2.ready() }, c1, c2)
	until(t, r, func() bool {
		_, ok := c2.p.Scene().Actor(c1.id())
		return ok
	}, c1, c2)

	actor, _ := c1.p.Scene().Actor(c1.id())
	req := actor.State.Clone()
	req.Heading = hexgrid.Hex{Q: 1}
	req.LastClock = 0.05
	require.NoError(t, c1.p.Try(network.ActorMove{Actor: req, Dt: 0.05}))

	until(t, r, func() bool {
		a, ok := c2.p.Scene().Actor(c1.id())
		return ok && a.State.Px.X > 0 && c1.p.Pending() == 0
	}, c1, c2)

	server, _ := r.auth.Scene().Actor(c1.id())
	mine, _ := c1.p.Scene().Actor(c1.id())
	theirs, _ := c2.p.Scene().Actor(c1.id())
	assert.Equal(t, server.State, mine.State)
	assert.Equal(t, server.State, theirs.State)

	for _, env := range c2.seen {
		if _, ok := env.Event.(network.ActorMove); ok {
			assert.Nil(t, env.Seq, "seq leaked to another client")
			assert.True(t, env.FromClient(c1.id()))
		}
	}
}

func TestDisconnectUnloadsActor(t *testing.T) {
	r := newRoom(t, testConfig(), nil)
	r.Load(context.Background())
	c1, c2 := connect(t, r), connect(t, r)
	until(t, r, func() bool {
		if !c1.ready() || !c2.ready() {
			return false
		}
		_, ok := c1.p.Scene().Actor(c2.id())
		return ok
	}, c1, c2)

	gone := c2.id()
	require.NoError(t, c2.session.Close())

	until(t, r, func() bool {
		_, ok := c1.p.Scene().Actor(gone)
		return !ok
	}, c1)
	_, ok := r.auth.Scene().Actor(gone)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Stats().Roster.Clients)
}

func TestRosterFullClosesSession(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPeers = 1
	r := newRoom(t, cfg, nil)
	r.Load(context.Background())
	c1 := connect(t, r)
	until(t, r, c1.ready, c1)

	c2 := connect(t, r)
	until(t, r, c2.session.Ended, c1, c2)
	assert.Equal(t, 1, r.Stats().Roster.Clients)
}

func TestRateLimitDropsFlood(t *testing.T) {
	cfg := testConfig()
	cfg.TryRate = 1
	cfg.TryBurst = 2
	r := newRoom(t, cfg, nil)
	r.Load(context.Background())
	c := connect(t, r)
	for i := 0; i < 20; i++ {
		c.p.Request(network.TileDiscover{Hex: hexgrid.Hex{Q: 40 + i}})
	}

	until(t, r, func() bool {
		s := r.Stats().Sessions
		return len(s) == 1 && s[0].RateLimited > 0
	}, c)
}

func TestLoadGeneratesWhenStoreFails(t *testing.T) {
	cfg := testConfig()
	cfg.NPCs = 2
	st := &memStore{err: errors.New("disk on fire")}
	r := newRoom(t, cfg, st)
	r.Load(context.Background())

	scene := r.auth.Scene()
	assert.Equal(t, 91, scene.Len())
	require.Len(t, r.npcs, 2)
	for _, a := range r.npcs {
		assert.Equal(t, game.TypeDog, a.State.Typ)
		assert.NotNil(t, a.Behaviour)
	}
}

func TestLoadRestoresServerActors(t *testing.T) {
	cfg := testConfig()
	cfg.NPCs = 2
	dog := game.NewActorState(game.NPCBase+5, game.TypeDog, hexgrid.Px{})
	player := game.NewActorState(3, game.TypePlayer, hexgrid.Px{})
	st := &memStore{snap: state.Snapshot{
		Version: state.SnapshotVersion,
		Tiles:   []state.TileEntry{{Hex: hexgrid.Hex{}, Tile: state.TileState{Flags: state.FlagSolid, Sprite: game.TerrainSprite}}},
		Actors:  []state.ActorState{dog, player},
	}}
	r := newRoom(t, cfg, st)
	r.Load(context.Background())

	scene := r.auth.Scene()
	assert.Equal(t, 1, scene.Len())
	_, ok := scene.Actor(dog.ID)
	assert.True(t, ok)
	_, ok = scene.Actor(player.ID)
	assert.False(t, ok)
	assert.Len(t, r.npcs, 2)
}

func TestServerActorsWander(t *testing.T) {
	cfg := testConfig()
	cfg.NPCs = 1
	r := newRoom(t, cfg, nil)
	r.Load(context.Background())
	require.Len(t, r.npcs, 1)
	start := r.npcs[0].State.Px

	for i := 0; i < 200 && r.npcs[0].State.Px == start; i++ {
		r.Tick(0.05)
	}
	assert.NotEqual(t, start, r.npcs[0].State.Px)
}

func TestServerActorsStopBetweenLegs(t *testing.T) {
	cfg := testConfig()
	cfg.NPCs = 1
	r := newRoom(t, cfg, nil)
	r.Load(context.Background())
	require.Len(t, r.npcs, 1)
	npc := r.npcs[0]

	i := 0
	for ; i < 200 && npc.State.Heading.IsZero(); i++ {
		r.Tick(0.05)
	}
	require.False(t, npc.State.Heading.IsZero(), "never started walking")

	for ; i < 400 && !npc.State.Heading.IsZero(); i++ {
		r.Tick(0.05)
	}
	assert.True(t, npc.State.Heading.IsZero(), "heading not cleared after the leg")
}

func TestRunSavesOnShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.NPCs = 1
	cfg.TickRate = 100
	st := &memStore{err: errors.New("empty")}
	r := newRoom(t, cfg, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.Stats().Ticks > 3 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, r.Run(ctx), ErrRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("room did not stop")
	}

	snap, ok := st.lastSaved()
	require.True(t, ok)
	assert.Len(t, snap.Tiles, 91)
	require.Len(t, snap.Actors, 1)
	assert.Equal(t, game.TypeDog, snap.Actors[0].Typ)
}
