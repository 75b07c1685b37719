package roster

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexworld/server/internal/game"
)

func TestAdmitAssignsDistinctIDs(t *testing.T) {
	r := NewRoster(3)
	now := time.Unix(100, 0)

	a, err := r.Admit("s1", "10.0.0.1:1", now)
	require.NoError(t, err)
	b, err := r.Admit("s2", "10.0.0.2:1", now)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), a)
	assert.Equal(t, uint32(2), b)

	// released ids are not handed straight back
	assert.True(t, r.Release(a))
	c, err := r.Admit("s3", "10.0.0.3:1", now)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), c)
	assert.False(t, r.Release(a))
}

func TestAdmitFull(t *testing.T) {
	r := NewRoster(1)
	_, err := r.Admit("s1", "", time.Time{})
	require.NoError(t, err)
	_, err = r.Admit("s2", "", time.Time{})
	assert.ErrorIs(t, err, ErrRosterFull)
}

func TestAdmitWrapsBelowServerActors(t *testing.T) {
	r := NewRoster(4)
	r.next = game.NPCBase - 1

	a, err := r.Admit("s1", "", time.Time{})
	require.NoError(t, err)
	b, err := r.Admit("s2", "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, game.NPCBase-1, a)
	assert.Equal(t, uint32(1), b)
}

func TestStats(t *testing.T) {
	r := NewRoster(8)
	for _, s := range []string{"a", "b", "c"} {
		_, err := r.Admit(s, "", time.Time{})
		require.NoError(t, err)
	}
	r.Release(2)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, 8, stats.MaxClients)
	require.Len(t, stats.Members, 2)
	assert.Equal(t, uint32(1), stats.Members[0].ID)
	assert.Equal(t, "c", stats.Members[1].Session)
}

func TestConcurrentAdmit(t *testing.T) {
	r := NewRoster(100)
	var wg sync.WaitGroup
	ids := make(chan uint32, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Admit("s", "", time.Time{})
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}
