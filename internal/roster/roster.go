// Package roster periodically reconciles the player registry against the
// authoritative roster reported over the control channel. It is the
// correctness backstop against lost or never-seen log lines: the registry
// converges to ground truth within one polling interval.
package roster

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/rcon"
	"github.com/urt30plus/urt30t/internal/registry"
)

// Source answers roster queries. *rcon.Client satisfies it.
type Source interface {
	Players() (*rcon.GameInfo, error)
}

// Synchronizer polls the control channel and emits synthetic
// connect/disconnect events when the registry has drifted.
type Synchronizer struct {
	source   Source
	players  *registry.Registry
	emit     func(events.Event)
	interval time.Duration

	// degraded-mode escalation after repeated control-channel failures
	maxFailures int
	failures    int
	degraded    atomic.Bool

	// OnGameInfo receives the parsed header of each successful poll.
	// Optional; used to track map/gametype state.
	OnGameInfo func(*rcon.GameInfo)

	// OnFailure is invoked once per failed cycle. Optional; feeds the
	// control-channel failure counter.
	OnFailure func(err error)
}

type Option func(*Synchronizer)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) { s.interval = d }
}

// WithMaxFailures sets how many consecutive failed cycles flip the
// synchronizer into degraded mode.
func WithMaxFailures(n int) Option {
	return func(s *Synchronizer) { s.maxFailures = n }
}

// New builds a synchronizer that reconciles players against source and
// pushes synthetic events through emit (the shared pipeline queue, so
// reconciliation events obey the same ordering as parsed ones).
func New(source Source, players *registry.Registry, emit func(events.Event), opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source:      source,
		players:     players,
		emit:        emit,
		interval:    3 * time.Second,
		maxFailures: 5,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Degraded reports whether the control channel has failed enough
// consecutive cycles to be considered unreliable. Parsing and dispatch
// continue regardless.
func (s *Synchronizer) Degraded() bool { return s.degraded.Load() }

// Run polls until ctx is cancelled. A failed cycle is logged and skipped,
// never fatal.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle()
		}
	}
}

// cycle performs one reconciliation pass.
func (s *Synchronizer) cycle() {
	info, err := s.source.Players()
	if err != nil {
		s.failures++
		log.Printf("roster: poll failed (%d/%d): %v", s.failures, s.maxFailures, err)
		if s.failures >= s.maxFailures && !s.degraded.Load() {
			s.degraded.Store(true)
			log.Printf("roster: control channel degraded after %d consecutive failures", s.failures)
		}
		if s.OnFailure != nil {
			s.OnFailure(err)
		}
		return
	}
	if s.failures > 0 || s.degraded.Load() {
		log.Printf("roster: control channel recovered")
	}
	s.failures = 0
	s.degraded.Store(false)

	if s.OnGameInfo != nil {
		s.OnGameInfo(info)
	}
	s.Reconcile(info.Players)
}

// Reconcile diffs the reported roster against the registry. Slots present
// remotely but absent (or occupied by someone else) locally get a synthetic
// connect; slots present locally but absent remotely get a synthetic
// disconnect. After it returns the registry matches the roster exactly.
func (s *Synchronizer) Reconcile(remote []rcon.RosterEntry) {
	seen := make(map[int]bool, len(remote))
	for _, entry := range remote {
		seen[entry.Slot] = true
		name := rcon.StripColors(entry.Name)
		cur, ok := s.players.Get(entry.Slot)
		if ok && sameIdentity(cur, entry.Auth, name) {
			s.players.Update(entry.Slot, func(p *registry.Player) {
				if entry.Auth != "" {
					p.Auth = entry.Auth
				}
				p.Team = entry.Team
				p.Kills = entry.Kills
				p.Deaths = entry.Deaths
				p.Assists = entry.Assists
			})
			continue
		}
		_, evicted := s.players.Upsert(entry.Slot, entry.Auth, name)
		if evicted != nil {
			s.emit(syntheticEvent(events.KindDisconnect, evicted.Slot, evicted.Name, evicted.Auth))
		}
		s.players.Update(entry.Slot, func(p *registry.Player) {
			p.Team = entry.Team
			p.Kills = entry.Kills
			p.Deaths = entry.Deaths
			p.Assists = entry.Assists
		})
		s.emit(syntheticEvent(events.KindConnect, entry.Slot, name, entry.Auth))
	}

	for _, p := range s.players.All() {
		if !seen[p.Slot] {
			if _, ok := s.players.Remove(p.Slot); ok {
				s.emit(syntheticEvent(events.KindDisconnect, p.Slot, p.Name, p.Auth))
			}
		}
	}
}

// sameIdentity reports whether a roster entry describes the slot's current
// occupant. Auth wins when both sides have one; an occupant whose auth only
// just appeared in the roster is matched by name, not treated as drift.
func sameIdentity(cur registry.Player, auth, name string) bool {
	if cur.Auth != "" && auth != "" {
		return cur.Auth == auth
	}
	return cur.Name == name
}

func syntheticEvent(kind events.Kind, slot int, name, auth string) events.Event {
	fields := map[string]string{
		events.FieldSlot: strconv.Itoa(slot),
		events.FieldName: name,
	}
	if auth != "" {
		fields[events.FieldAuth] = auth
	}
	return events.Event{
		Kind:      kind,
		Time:      time.Now(),
		Fields:    fields,
		Synthetic: true,
	}
}
