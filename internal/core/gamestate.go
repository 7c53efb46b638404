package core

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/urt30plus/urt30t/internal/dispatch"
	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/rcon"
	"github.com/urt30plus/urt30t/internal/registry"
	"github.com/urt30plus/urt30t/internal/store"
)

// ProfileStore is the persistence surface the game-state handler needs.
// *store.Store satisfies it.
type ProfileStore interface {
	LoadProfile(ctx context.Context, auth string) (store.Profile, error)
	SaveProfile(ctx context.Context, p store.Profile) error
}

// GameStateHandler keeps the player registry current from parsed events.
// It must run before other handlers in a dispatch turn so they see the
// registry already reflecting the event (a connect before any chat from
// that slot).
type GameStateHandler struct {
	bot      *Bot
	profiles ProfileStore
}

func NewGameStateHandler(bot *Bot, profiles ProfileStore) *GameStateHandler {
	return &GameStateHandler{bot: bot, profiles: profiles}
}

// Subscribe registers the handler on the bus ahead of everything else.
func (h *GameStateHandler) Subscribe(bus *dispatch.Bus) {
	const priority = -100
	for _, kind := range []events.Kind{
		events.KindConnect,
		events.KindUserInfo,
		events.KindUserInfoChanged,
		events.KindAccountValidated,
		events.KindDisconnect,
		events.KindKill,
		events.KindAssist,
		events.KindInitGame,
		events.KindLogRotate,
	} {
		bus.Subscribe(kind, priority, "gamestate", h)
	}
}

func (h *GameStateHandler) HandleEvent(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindConnect:
		return h.onConnect(ctx, ev)
	case events.KindUserInfo:
		return h.onUserInfo(ctx, ev)
	case events.KindUserInfoChanged:
		return h.onUserInfoChanged(ev)
	case events.KindAccountValidated:
		return h.onAccountValidated(ctx, ev)
	case events.KindDisconnect:
		return h.onDisconnect(ev)
	case events.KindKill:
		return h.onKill(ev)
	case events.KindAssist:
		return h.onAssist(ev)
	case events.KindInitGame:
		return h.onInitGame(ev)
	case events.KindLogRotate:
		return h.onLogRotate()
	}
	return nil
}

// onConnect handles synthetic roster connects, which carry identity the
// log-derived ClientConnect does not. Log connects are completed by the
// ClientUserinfo that follows them.
func (h *GameStateHandler) onConnect(ctx context.Context, ev events.Event) error {
	if !ev.Synthetic {
		return nil
	}
	slot, ok := ev.Slot()
	if !ok {
		return nil
	}
	name := ev.Fields[events.FieldName]
	auth := ev.Fields[events.FieldAuth]
	h.upsert(ctx, slot, auth, name)
	return nil
}

func (h *GameStateHandler) onUserInfo(ctx context.Context, ev events.Event) error {
	slot, ok := ev.Slot()
	if !ok {
		return nil
	}
	name := rcon.StripColors(ev.Fields["name"])
	auth := ev.Fields["authl"]
	h.upsert(ctx, slot, auth, name)
	return nil
}

func (h *GameStateHandler) upsert(ctx context.Context, slot int, auth, name string) {
	_, evicted := h.bot.Players().Upsert(slot, auth, name)
	if evicted != nil {
		// slot reuse: the previous occupant leaves before the new one lands
		fields := map[string]string{
			events.FieldSlot: strconv.Itoa(slot),
			events.FieldName: evicted.Name,
		}
		if evicted.Auth != "" {
			fields[events.FieldAuth] = evicted.Auth
		}
		h.bot.Enqueue(events.Event{
			Kind:      events.KindDisconnect,
			Fields:    fields,
			Synthetic: true,
		})
	}
	h.applyProfile(ctx, slot, auth, name)
}

// applyProfile loads the persisted profile for an authenticated player and
// applies its access level; first-time identities are saved as guests.
func (h *GameStateHandler) applyProfile(ctx context.Context, slot int, auth, name string) {
	if h.profiles == nil || auth == "" {
		return
	}
	p, err := h.profiles.LoadProfile(ctx, auth)
	if errors.Is(err, store.ErrNotFound) {
		p = store.Profile{Auth: auth, Name: name, Level: registry.LevelGuest}
		if err := h.profiles.SaveProfile(ctx, p); err != nil {
			log.Printf("gamestate: save new profile %s: %v", auth, err)
		}
	} else if err != nil {
		log.Printf("gamestate: load profile %s: %v", auth, err)
		return
	}
	h.bot.Players().Update(slot, func(pl *registry.Player) {
		pl.Level = p.Level
	})
	if name != "" && name != p.Name {
		p.Name = name
		if err := h.profiles.SaveProfile(ctx, p); err != nil {
			log.Printf("gamestate: update profile %s: %v", auth, err)
		}
	}
}

func (h *GameStateHandler) onUserInfoChanged(ev events.Event) error {
	slot, ok := ev.Slot()
	if !ok {
		return nil
	}
	h.bot.Players().Update(slot, func(p *registry.Player) {
		if n := rcon.StripColors(strings.TrimSuffix(ev.Fields["n"], "^7")); n != "" {
			p.Name = n
		}
		if t := ev.Fields["t"]; t != "" {
			p.Team = teamName(t)
		}
	})
	return nil
}

func (h *GameStateHandler) onAccountValidated(ctx context.Context, ev events.Event) error {
	slot, ok := ev.Slot()
	if !ok {
		return nil
	}
	auth := ev.Fields[events.FieldAuth]
	if auth == "" {
		return nil
	}
	var name string
	h.bot.Players().Update(slot, func(p *registry.Player) {
		p.Auth = auth
		name = p.Name
	})
	h.applyProfile(ctx, slot, auth, name)
	return nil
}

// onDisconnect clears a slot. Eviction and reconciliation disconnects name
// the departing player; by the time they drain through dispatch the slot may
// already belong to someone else, who must not be un-registered.
func (h *GameStateHandler) onDisconnect(ev events.Event) error {
	slot, ok := ev.Slot()
	if !ok {
		return nil
	}
	name := ev.Fields[events.FieldName]
	auth := ev.Fields[events.FieldAuth]
	if name != "" || auth != "" {
		cur, present := h.bot.Players().Get(slot)
		if !present {
			return nil
		}
		if auth != "" || cur.Auth != "" {
			if cur.Auth != auth {
				return nil
			}
		} else if cur.Name != name {
			return nil
		}
	}
	h.bot.Players().Remove(slot)
	return nil
}

func (h *GameStateHandler) onKill(ev events.Event) error {
	attacker, aok := ev.IntField(events.FieldAttacker)
	victim, vok := ev.IntField(events.FieldVictim)
	if vok {
		h.bot.Players().Update(victim, func(p *registry.Player) { p.Deaths++ })
	}
	if aok && (!vok || attacker != victim) {
		h.bot.Players().Update(attacker, func(p *registry.Player) { p.Kills++ })
	}
	return nil
}

func (h *GameStateHandler) onAssist(ev events.Event) error {
	if slot, ok := ev.Slot(); ok {
		h.bot.Players().Update(slot, func(p *registry.Player) { p.Assists++ })
	}
	return nil
}

func (h *GameStateHandler) onInitGame(ev events.Event) error {
	h.bot.SetGame(GameState{
		MapName:  ev.Fields["mapname"],
		GameType: ev.Fields["g_gametype"],
		Warmup:   true,
	})
	return nil
}

// onLogRotate drops log-derived session state. The registry is left alone;
// the next reconciliation cycle re-establishes it from the roster.
func (h *GameStateHandler) onLogRotate() error {
	log.Printf("gamestate: log rotated, resetting game state")
	h.bot.SetGame(GameState{})
	return nil
}

func teamName(t string) string {
	switch t {
	case "0":
		return "FREE"
	case "1":
		return "RED"
	case "2":
		return "BLUE"
	case "3":
		return "SPECTATOR"
	}
	return "UNKNOWN"
}
