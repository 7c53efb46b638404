// Package command recognizes marker-prefixed chat messages, authorizes the
// issuing player and dispatches to registered command handlers.
package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/registry"
)

var (
	// ErrUnknownPlayer means the issuing slot has no registry entry; the
	// command is not executed.
	ErrUnknownPlayer = errors.New("unknown player")

	// ErrInsufficientAccess means the player's level is below the
	// command's minimum; reported to the issuer only.
	ErrInsufficientAccess = errors.New("insufficient access")

	// ErrInvalidArguments means the argument shape did not match the
	// command's spec; usage help is surfaced to the issuer.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Scope selects the audience of a command reply, chosen by how many marker
// characters the issuer typed: one is private, two is a broadcast say,
// three a bigtext banner.
type Scope int

const (
	ScopePrivate Scope = iota + 1
	ScopeLoud
	ScopeBig
)

// Handler executes one command invocation.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}

// Definition describes one registered command. Registered once at startup,
// immutable afterward.
type Definition struct {
	Name     string
	Aliases  []string
	MinLevel registry.Level
	MinArgs  int
	MaxArgs  int // -1 for unbounded
	Usage    string
	Help     string
	Handler  Handler
}

// Invocation bundles everything a command handler needs: the issuing
// player (a snapshot; may go stale), parsed arguments, and a reply
// capability that becomes a no-op if the player disconnects mid-execution.
type Invocation struct {
	Player registry.Player
	Args   []string
	Scope  Scope
	reply  func(scope Scope, msg string)
}

// Reply sends a message back to the issuer using the invocation's scope.
func (inv *Invocation) Reply(msg string) { inv.reply(inv.Scope, msg) }

// ReplyPrivate sends a private message regardless of scope.
func (inv *Invocation) ReplyPrivate(msg string) { inv.reply(ScopePrivate, msg) }

// Messenger delivers replies to players. *rcon.Client satisfies it.
type Messenger interface {
	Say(msg string) error
	Tell(slot int, msg string) error
	BigText(msg string) error
}

type cooldownKey struct {
	slot int
	name string
}

// Dispatcher implements dispatch.Handler for chat events. A message is
// command-shaped when it starts with the marker character; everything else
// passes through untouched as ordinary chat for other subscribers.
type Dispatcher struct {
	players   *registry.Registry
	messenger Messenger
	marker    byte
	prefix    string
	window    time.Duration
	now       func() time.Time

	commands map[string]*Definition // by name and alias, lowercase
	defs     []*Definition

	mu        sync.Mutex
	cooldowns map[cooldownKey]time.Time
}

type Option func(*Dispatcher)

// WithMarker sets the command marker character (default '!').
func WithMarker(m byte) Option {
	return func(d *Dispatcher) { d.marker = m }
}

// WithCooldown sets the per-player, per-command suppression window.
func WithCooldown(w time.Duration) Option {
	return func(d *Dispatcher) { d.window = w }
}

// WithMessagePrefix sets the prefix prepended to every reply.
func WithMessagePrefix(p string) Option {
	return func(d *Dispatcher) { d.prefix = p }
}

func NewDispatcher(players *registry.Registry, messenger Messenger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		players:   players,
		messenger: messenger,
		marker:    '!',
		window:    2 * time.Second,
		now:       time.Now,
		commands:  make(map[string]*Definition),
		cooldowns: make(map[cooldownKey]time.Time),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds a command definition. Called during startup wiring only;
// not safe concurrently with dispatch. Names and aliases are matched
// case-insensitively and must be unique.
func (d *Dispatcher) Register(def Definition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("command definition needs a name and a handler")
	}
	cp := def
	for _, key := range append([]string{cp.Name}, cp.Aliases...) {
		key = strings.ToLower(key)
		if _, dup := d.commands[key]; dup {
			return fmt.Errorf("command %q already registered", key)
		}
		d.commands[key] = &cp
	}
	d.defs = append(d.defs, &cp)
	return nil
}

// Commands returns the registered definitions sorted by name.
func (d *Dispatcher) Commands() []*Definition {
	out := make([]*Definition, len(d.defs))
	copy(out, d.defs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HandleEvent inspects a chat event and, when it is command-shaped,
// resolves and executes the command. Unknown tokens are not commands: the
// event remains an ordinary chat event for other subscribers, the issuer
// just gets a suggestion.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev events.Event) error {
	if !ev.IsChat() {
		return nil
	}
	text := ev.Fields[events.FieldText]
	if text == "" || text[0] != d.marker {
		return nil
	}
	slot, ok := ev.Slot()
	if !ok {
		return fmt.Errorf("%w: chat event without slot", ErrUnknownPlayer)
	}

	body := strings.TrimLeft(text, string(d.marker))
	markers := len(text) - len(body)
	if markers > int(ScopeBig) || strings.TrimSpace(body) == "" {
		return nil
	}
	token, tail, _ := strings.Cut(body, " ")
	args := strings.Fields(tail)
	scope := Scope(markers)

	def, found := d.commands[strings.ToLower(token)]
	if !found {
		d.suggest(slot, token)
		return nil
	}
	return d.invoke(ctx, def, slot, token, args, scope)
}

// invoke walks the command state machine:
// received -> authorized -> validated -> executing -> {completed | failed}.
// Any failure is terminal for this invocation and reported to the issuer.
func (d *Dispatcher) invoke(ctx context.Context, def *Definition, slot int, token string, args []string, scope Scope) error {
	player, ok := d.players.Get(slot)
	if !ok {
		log.Printf("command: %s from unknown slot %d", token, slot)
		return fmt.Errorf("%w: slot %d", ErrUnknownPlayer, slot)
	}

	if player.Level < def.MinLevel {
		d.tell(slot, fmt.Sprintf("you need %s access for !%s", def.MinLevel, def.Name))
		return fmt.Errorf("%w: %s needs %s, %s is %s",
			ErrInsufficientAccess, def.Name, def.MinLevel, player.Name, player.Level)
	}

	if len(args) < def.MinArgs || (def.MaxArgs >= 0 && len(args) > def.MaxArgs) {
		usage := def.Usage
		if usage == "" {
			usage = def.Name
		}
		d.tell(slot, "usage: !"+usage)
		return fmt.Errorf("%w: !%s got %d args", ErrInvalidArguments, def.Name, len(args))
	}

	if d.onCooldown(slot, def.Name, args) {
		// suppressed, not an error: protects against command spam
		return nil
	}

	inv := &Invocation{
		Player: player,
		Args:   args,
		Scope:  scope,
		reply:  d.replyFunc(player),
	}
	if err := def.Handler.Execute(ctx, inv); err != nil {
		inv.ReplyPrivate("command failed: " + err.Error())
		return fmt.Errorf("command %s: %w", def.Name, err)
	}
	return nil
}

// onCooldown reports and records whether an identical command from the
// same player landed inside the suppression window.
func (d *Dispatcher) onCooldown(slot int, name string, args []string) bool {
	key := cooldownKey{slot: slot, name: name + " " + strings.Join(args, " ")}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.cooldowns[key]; ok && now.Sub(last) < d.window {
		return true
	}
	if len(d.cooldowns) > 256 {
		for k, v := range d.cooldowns {
			if now.Sub(v) >= d.window {
				delete(d.cooldowns, k)
			}
		}
	}
	d.cooldowns[key] = now
	return false
}

// replyFunc builds the reply capability for one invocation. If the player
// has disconnected (or the slot was reused) by the time a reply is sent,
// the reply is dropped instead of going to the wrong person.
func (d *Dispatcher) replyFunc(player registry.Player) func(Scope, string) {
	return func(scope Scope, msg string) {
		cur, ok := d.players.Get(player.Slot)
		if !ok || !sameOccupant(cur, player) {
			return
		}
		if d.prefix != "" {
			msg = d.prefix + " " + msg
		}
		var err error
		switch scope {
		case ScopeLoud:
			err = d.messenger.Say(msg)
		case ScopeBig:
			err = d.messenger.BigText(msg)
		default:
			err = d.messenger.Tell(player.Slot, msg)
		}
		if err != nil {
			log.Printf("command: reply to slot %d: %v", player.Slot, err)
		}
	}
}

func sameOccupant(cur, issued registry.Player) bool {
	if issued.Auth != "" || cur.Auth != "" {
		return cur.Auth == issued.Auth
	}
	return cur.Name == issued.Name
}

func (d *Dispatcher) tell(slot int, msg string) {
	if d.prefix != "" {
		msg = d.prefix + " " + msg
	}
	if err := d.messenger.Tell(slot, msg); err != nil {
		log.Printf("command: tell slot %d: %v", slot, err)
	}
}

// suggest sends a "did you mean" notice for an unknown token when any
// registered command contains it as a substring.
func (d *Dispatcher) suggest(slot int, token string) {
	token = strings.ToLower(token)
	if len(token) < 2 {
		return
	}
	var names []string
	for key := range d.commands {
		if strings.Contains(key, token) {
			names = append(names, key)
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)
	d.tell(slot, "did you mean? "+strings.Join(names, ", "))
}
