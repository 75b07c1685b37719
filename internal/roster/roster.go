package roster

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hexworld/server/internal/game"
)

// ErrRosterFull is returned when the server has no room for another client.
var ErrRosterFull = errors.New("roster full")

// Roster hands out client ids and enforces the connection limit
type Roster struct {
	mu      sync.RWMutex
	max     int
	next    uint32
	members map[uint32]Member
}

// Member is one admitted client
type Member struct {
	ID      uint32    `json:"id"`
	Session string    `json:"session"`
	Remote  string    `json:"remote"`
	Joined  time.Time `json:"joined"`
}

// NewRoster creates a roster admitting at most max clients
func NewRoster(max int) *Roster {
	return &Roster{
		max:     max,
		next:    1,
		members: make(map[uint32]Member),
	}
}

// Admit assigns a fresh client id. Ids are not reused while the previous
// holder is still present, and always stay below the server actor range.
func (r *Roster) Admit(session, remote string, now time.Time) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) >= r.max {
		return 0, errors.Wrapf(ErrRosterFull, "%d clients", len(r.members))
	}

	id := r.next
	for {
		if id == 0 || id >= game.NPCBase {
			id = 1
		}
		if _, taken := r.members[id]; !taken {
			break
		}
		id++
	}
	r.next = id + 1

	r.members[id] = Member{ID: id, Session: session, Remote: remote, Joined: now}
	return id, nil
}

// Release frees a client id. It reports whether the id was admitted.
func (r *Roster) Release(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

// Len returns the number of admitted clients
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

// Stats returns roster statistics
func (r *Roster) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Clients:    len(r.members),
		MaxClients: r.max,
		Members:    make([]Member, 0, len(r.members)),
	}
	for _, m := range r.members {
		stats.Members = append(stats.Members, m)
	}
	slices.SortFunc(stats.Members, func(a, b Member) int { return cmp.Compare(a.ID, b.ID) })

	return stats
}

// Stats contains roster statistics
type Stats struct {
	Clients    int      `json:"clients"`
	MaxClients int      `json:"max_clients"`
	Members    []Member `json:"members"`
}
