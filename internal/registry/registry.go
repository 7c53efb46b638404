// Package registry holds the in-memory table of currently connected
// players. It is the single source of truth for who occupies a slot and the
// only mutator of player state.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Level is a player's access level. Levels gate command execution.
type Level int

const (
	LevelGuest     Level = 1
	LevelUser      Level = 10
	LevelFriend    Level = 20
	LevelModerator Level = 30
	LevelAdmin     Level = 100
)

func (l Level) String() string {
	switch l {
	case LevelGuest:
		return "guest"
	case LevelUser:
		return "user"
	case LevelFriend:
		return "friend"
	case LevelModerator:
		return "moderator"
	case LevelAdmin:
		return "admin"
	}
	return "unknown"
}

// ParseLevel maps a level name to its value, defaulting to guest.
func ParseLevel(s string) Level {
	switch s {
	case "user":
		return LevelUser
	case "friend":
		return LevelFriend
	case "moderator", "mod":
		return LevelModerator
	case "admin":
		return LevelAdmin
	}
	return LevelGuest
}

// Player is one occupant of a numbered slot. Auth is the durable
// cross-session identity and is empty for unauthenticated players.
//
// Values handed out by the registry are copies; holding one across dispatch
// turns means accepting that it may be stale.
type Player struct {
	Slot        int
	Auth        string
	Name        string
	Team        string
	Level       Level
	ConnectedAt time.Time

	// session counters, reset each connection
	Kills   int
	Deaths  int
	Assists int
}

// Registry is a mutex-guarded slot table. Reads return snapshots.
type Registry struct {
	mu      sync.RWMutex
	players map[int]*Player
}

func New() *Registry {
	return &Registry{players: make(map[int]*Player)}
}

// Upsert creates or updates the occupant of a slot. If the slot was held by
// a different identity the old player is evicted first and returned, so the
// caller can synthesize a disconnect; slot reuse never merges two people.
func (r *Registry) Upsert(slot int, auth, name string) (p Player, evicted *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.players[slot]
	if ok && !sameIdentity(cur, auth, name) {
		old := *cur
		evicted = &old
		ok = false
	}
	if !ok {
		cur = &Player{
			Slot:        slot,
			Auth:        auth,
			Name:        name,
			Level:       LevelGuest,
			ConnectedAt: time.Now(),
		}
		r.players[slot] = cur
	} else {
		if auth != "" {
			cur.Auth = auth
		}
		if name != "" {
			cur.Name = name
		}
	}
	return *cur, evicted
}

// sameIdentity reports whether the existing occupant and the incoming
// (auth, name) pair describe the same person. Authenticated players compare
// by auth; anonymous ones by display name.
func sameIdentity(cur *Player, auth, name string) bool {
	if auth != "" && cur.Auth != "" {
		return cur.Auth == auth
	}
	if auth != "" || name == "" {
		return true // partial update of the current occupant
	}
	return cur.Name == name
}

// Remove deletes the occupant and returns it. Removing an empty slot is a
// no-op: disconnect events can race with roster reconciliation.
func (r *Registry) Remove(slot int) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[slot]
	if !ok {
		return Player{}, false
	}
	delete(r.players, slot)
	return *p, true
}

// Get returns a copy of the slot's occupant.
func (r *Registry) Get(slot int) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[slot]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// All returns a point-in-time snapshot of connected players ordered by
// slot, safe to iterate while the registry is concurrently mutated.
func (r *Registry) All() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Len reports the number of connected players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Update applies fn to the slot's occupant under the registry lock. It is
// the single mutation path for player state after connection: session
// counters, team, name and level changes all go through here.
func (r *Registry) Update(slot int, fn func(*Player)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[slot]
	if !ok {
		return false
	}
	fn(p)
	return true
}
