package network

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexworld/server/internal/hexgrid"
)

const waitFor = 2 * time.Second

// collector accumulates everything a session receives.
type collector struct {
	mu  sync.Mutex
	got []Envelope
}

func (c *collector) poll(s *Session) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, s.Recv()...)
	return append([]Envelope(nil), c.got...)
}

func pipeSessions(t *testing.T) (server, client *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a, b := net.Pipe()
	server = NewSession(a, WithGreeting(), WithSyncIdle(time.Millisecond))
	client = NewSession(b, WithSyncIdle(time.Millisecond))
	server.Start(ctx)
	client.Start(ctx)
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func discover(q int) Envelope {
	return Envelope{Event: TileDiscover{Hex: hexgrid.Hex{Q: q}}}
}

func TestSessionDeliversInOrder(t *testing.T) {
	server, client := pipeSessions(t)

	client.Send(discover(1))
	client.Send(discover(2))
	client.Send(discover(3))

	var c collector
	require.Eventually(t, func() bool { return len(c.poll(server)) == 3 }, waitFor, time.Millisecond)
	assert.Equal(t, []Envelope{discover(1), discover(2), discover(3)}, c.poll(server))

	server.Send(discover(9))
	var back collector
	require.Eventually(t, func() bool { return len(back.poll(client)) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, discover(9), back.poll(client)[0])

	assert.False(t, server.Ended())
	assert.False(t, client.Ended())
}

func TestSessionEndsWhenPeerCloses(t *testing.T) {
	server, client := pipeSessions(t)

	require.NoError(t, client.Close())
	require.Eventually(t, server.Ended, waitFor, time.Millisecond)
	assert.Error(t, server.Err())

	select {
	case <-server.Done():
	case <-time.After(waitFor):
		t.Fatal("sync goroutine did not exit")
	}

	// sends after the end are discarded, not queued
	server.Send(discover(1))
	assert.Zero(t, server.outbound.Len())
}

func TestSessionStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, b := net.Pipe()
	defer b.Close()

	s := NewSession(a, WithGreeting())
	s.Start(ctx)
	cancel()

	require.Eventually(t, s.Ended, waitFor, time.Millisecond)
	assert.ErrorIs(t, s.Err(), ErrSessionClosed)
}

func TestSessionSkipsMalformedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := net.Pipe()
	s := NewSession(a, WithGreeting(), WithSyncIdle(0))
	s.Start(ctx)
	defer s.Close()

	// play the client by hand
	r := bufio.NewReader(b)
	_, end, err := ReadFrame(r)
	require.NoError(t, err)
	require.True(t, end, "greeting first")

	go func() {
		w := bufio.NewWriter(b)
		_ = WriteFrame(w, []byte{0xc1, 0x00})
		good, _ := EncodeEnvelope(discover(5))
		_ = WriteFrame(w, good)
		_ = WriteSentinel(w)
		_ = w.Flush()
	}()

	// the server answers the batch with its own (empty) one
	_, end, err = ReadFrame(r)
	require.NoError(t, err)
	assert.True(t, end)

	var c collector
	require.Eventually(t, func() bool { return len(c.poll(s)) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, discover(5), c.poll(s)[0])
	assert.Equal(t, uint64(1), s.Stats().Dropped)
	assert.False(t, s.Ended())
}

func TestQueueDrainOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Push(discover(i))
	}
	assert.Equal(t, 5, q.Len())

	select {
	case <-q.Wait():
	default:
		t.Fatal("push did not signal")
	}

	got := q.Drain()
	require.Len(t, got, 5)
	for i, env := range got {
		assert.Equal(t, discover(i), env)
	}
	assert.Empty(t, q.Drain())
}
