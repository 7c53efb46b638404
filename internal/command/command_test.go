package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/registry"
)

type fakeMessenger struct {
	says  []string
	tells []string
	bigs  []string
}

func (m *fakeMessenger) Say(msg string) error { m.says = append(m.says, msg); return nil }
func (m *fakeMessenger) Tell(slot int, msg string) error {
	m.tells = append(m.tells, fmt.Sprintf("%d:%s", slot, msg))
	return nil
}
func (m *fakeMessenger) BigText(msg string) error { m.bigs = append(m.bigs, msg); return nil }

func sayEvent(slot int, text string) events.Event {
	return events.Event{
		Kind: events.KindSay,
		Fields: map[string]string{
			events.FieldSlot: fmt.Sprintf("%d", slot),
			events.FieldText: text,
		},
	}
}

func testDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *registry.Registry, *fakeMessenger) {
	t.Helper()
	players := registry.New()
	messenger := &fakeMessenger{}
	// cooldown off by default so repeat invocations are not suppressed
	d := NewDispatcher(players, messenger, append([]Option{WithCooldown(0)}, opts...)...)
	return d, players, messenger
}

func TestCommandExecutesExactlyOnce(t *testing.T) {
	d, players, _ := testDispatcher(t)
	players.Upsert(3, "", "Player3")

	calls := 0
	if err := d.Register(Definition{
		Name:     "help",
		MinLevel: registry.LevelGuest,
		MaxArgs:  -1,
		Handler: HandlerFunc(func(context.Context, *Invocation) error {
			calls++
			return nil
		}),
	}); err != nil {
		t.Fatal(err)
	}

	if err := d.HandleEvent(context.Background(), sayEvent(3, "!help")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestCommandInsufficientAccess(t *testing.T) {
	d, players, messenger := testDispatcher(t)
	players.Upsert(3, "", "Player3") // guest

	calls := 0
	d.Register(Definition{
		Name:     "nuke",
		MinLevel: registry.LevelAdmin,
		Handler: HandlerFunc(func(context.Context, *Invocation) error {
			calls++
			return nil
		}),
	})

	err := d.HandleEvent(context.Background(), sayEvent(3, "!nuke"))
	if !errors.Is(err, ErrInsufficientAccess) {
		t.Fatalf("err = %v, want ErrInsufficientAccess", err)
	}
	if calls != 0 {
		t.Fatal("handler must not execute below the minimum level")
	}
	if len(messenger.tells) != 1 || !strings.Contains(messenger.tells[0], "admin") {
		t.Errorf("issuer should get a rejection reason, got %v", messenger.tells)
	}
}

func TestCommandUnknownPlayer(t *testing.T) {
	d, _, _ := testDispatcher(t)
	calls := 0
	d.Register(Definition{
		Name:     "help",
		MinLevel: registry.LevelGuest,
		Handler:  HandlerFunc(func(context.Context, *Invocation) error { calls++; return nil }),
	})

	err := d.HandleEvent(context.Background(), sayEvent(9, "!help"))
	if !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("err = %v, want ErrUnknownPlayer", err)
	}
	if calls != 0 {
		t.Fatal("handler must not execute for unknown players")
	}
}

func TestCommandInvalidArguments(t *testing.T) {
	d, players, messenger := testDispatcher(t)
	players.Upsert(3, "", "Player3")

	d.Register(Definition{
		Name:     "force",
		MinLevel: registry.LevelGuest,
		MinArgs:  2,
		MaxArgs:  2,
		Usage:    "force <player> <team>",
		Handler:  HandlerFunc(func(context.Context, *Invocation) error { return nil }),
	})

	err := d.HandleEvent(context.Background(), sayEvent(3, "!force onlyone"))
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
	if len(messenger.tells) != 1 || !strings.Contains(messenger.tells[0], "usage: !force <player> <team>") {
		t.Errorf("usage help not surfaced: %v", messenger.tells)
	}
}

func TestCommandAliasAndCaseInsensitive(t *testing.T) {
	d, players, _ := testDispatcher(t)
	players.Upsert(3, "", "Player3")

	calls := 0
	d.Register(Definition{
		Name:     "leveltest",
		Aliases:  []string{"lt"},
		MinLevel: registry.LevelGuest,
		Handler:  HandlerFunc(func(context.Context, *Invocation) error { calls++; return nil }),
	})

	for _, text := range []string{"!LT", "!LevelTest"} {
		if err := d.HandleEvent(context.Background(), sayEvent(3, text)); err != nil {
			t.Fatalf("HandleEvent(%q): %v", text, err)
		}
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
}

func TestCommandCooldownSuppressesRepeats(t *testing.T) {
	now := time.Unix(1000, 0)
	d, players, _ := testDispatcher(t, WithCooldown(2*time.Second))
	d.now = func() time.Time { return now }
	players.Upsert(3, "", "Player3")

	calls := 0
	d.Register(Definition{
		Name:     "help",
		MinLevel: registry.LevelGuest,
		Handler:  HandlerFunc(func(context.Context, *Invocation) error { calls++; return nil }),
	})

	d.HandleEvent(context.Background(), sayEvent(3, "!help"))
	d.HandleEvent(context.Background(), sayEvent(3, "!help"))
	if calls != 1 {
		t.Fatalf("repeat inside window ran %d times, want 1", calls)
	}

	now = now.Add(3 * time.Second)
	d.HandleEvent(context.Background(), sayEvent(3, "!help"))
	if calls != 2 {
		t.Fatalf("repeat after window ran %d times, want 2", calls)
	}
}

func TestUnknownTokenIsNotACommand(t *testing.T) {
	d, players, messenger := testDispatcher(t)
	players.Upsert(3, "", "Player3")
	d.Register(Definition{
		Name:     "maps",
		MinLevel: registry.LevelGuest,
		Handler:  HandlerFunc(func(context.Context, *Invocation) error { return nil }),
	})

	// unknown token: no error, the event stays ordinary chat
	if err := d.HandleEvent(context.Background(), sayEvent(3, "!map")); err != nil {
		t.Fatalf("unknown token should not error: %v", err)
	}
	if len(messenger.tells) != 1 || !strings.Contains(messenger.tells[0], "did you mean") {
		t.Errorf("expected a suggestion, got %v", messenger.tells)
	}

	// plain chat is ignored entirely
	if err := d.HandleEvent(context.Background(), sayEvent(3, "hello there")); err != nil {
		t.Fatalf("plain chat should be ignored: %v", err)
	}
}

func TestReplyScopeFromMarkerCount(t *testing.T) {
	d, players, messenger := testDispatcher(t)
	players.Upsert(3, "", "Player3")
	d.Register(Definition{
		Name:     "ping",
		MinLevel: registry.LevelGuest,
		Handler: HandlerFunc(func(_ context.Context, inv *Invocation) error {
			inv.Reply("pong")
			return nil
		}),
	})

	d.HandleEvent(context.Background(), sayEvent(3, "!ping"))
	if len(messenger.tells) != 1 {
		t.Fatalf("single marker should reply privately: %+v", messenger)
	}
	d.HandleEvent(context.Background(), sayEvent(3, "!!ping"))
	if len(messenger.says) != 1 {
		t.Fatalf("double marker should reply loudly: %+v", messenger)
	}
}

func TestReplyNoopAfterDisconnect(t *testing.T) {
	d, players, messenger := testDispatcher(t)
	players.Upsert(3, "money", "Money")

	var saved *Invocation
	d.Register(Definition{
		Name:     "slow",
		MinLevel: registry.LevelGuest,
		Handler: HandlerFunc(func(_ context.Context, inv *Invocation) error {
			saved = inv
			return nil
		}),
	})

	d.HandleEvent(context.Background(), sayEvent(3, "!slow"))
	players.Remove(3)
	saved.Reply("too late")
	if len(messenger.tells) != 0 {
		t.Errorf("reply after disconnect must be a no-op, got %v", messenger.tells)
	}

	// slot reused by someone else: still a no-op
	players.Upsert(3, "other", "Other")
	saved.Reply("wrong person")
	if len(messenger.tells) != 0 {
		t.Errorf("reply to a reused slot must be a no-op, got %v", messenger.tells)
	}
}

func TestCommandFailureReportedToIssuer(t *testing.T) {
	d, players, messenger := testDispatcher(t)
	players.Upsert(3, "", "Player3")
	d.Register(Definition{
		Name:     "broken",
		MinLevel: registry.LevelGuest,
		Handler: HandlerFunc(func(context.Context, *Invocation) error {
			return errors.New("nope")
		}),
	})

	if err := d.HandleEvent(context.Background(), sayEvent(3, "!broken")); err == nil {
		t.Fatal("handler failure should propagate as a dispatch failure")
	}
	if len(messenger.tells) != 1 || !strings.Contains(messenger.tells[0], "command failed") {
		t.Errorf("issuer should see the failure, got %v", messenger.tells)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	d, _, _ := testDispatcher(t)
	h := HandlerFunc(func(context.Context, *Invocation) error { return nil })
	if err := d.Register(Definition{Name: "help", Handler: h}); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(Definition{Name: "h", Aliases: []string{"help"}, Handler: h}); err == nil {
		t.Error("alias colliding with an existing name should be rejected")
	}
}
