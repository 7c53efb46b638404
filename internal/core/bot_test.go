package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/urt30plus/urt30t/internal/dispatch"
	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/logtail"
	"github.com/urt30plus/urt30t/internal/rcon"
	"github.com/urt30plus/urt30t/internal/registry"
	"github.com/urt30plus/urt30t/internal/roster"
)

type recorder struct {
	ch chan events.Event
}

func (r *recorder) HandleEvent(_ context.Context, ev events.Event) error {
	r.ch <- ev
	return nil
}

type fakeSource struct {
	mu   sync.Mutex
	info *rcon.GameInfo
	err  error
}

func (f *fakeSource) Players() (*rcon.GameInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeSource) set(info *rcon.GameInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.info = info
}

// startPipeline wires a real tailer, synchronizer and bus around a temp log
// file, the way the daemon does.
func startPipeline(t *testing.T, source roster.Source) (*Bot, string, *recorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tailer := logtail.New(path, logtail.WithReadDelay(5*time.Millisecond))
	bus := dispatch.NewBus()
	players := registry.New()

	var bot *Bot
	rosterSync := roster.New(source, players, func(ev events.Event) { bot.Enqueue(ev) },
		roster.WithInterval(10*time.Millisecond))
	bot = New(tailer, rosterSync, bus, players, WithShutdownGrace(time.Second))

	rec := &recorder{ch: make(chan events.Event, 64)}
	bus.Subscribe(events.KindAny, 0, "recorder", rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("bot.Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("bot did not shut down")
		}
	})
	return bot, path, rec
}

func nextEvent(t *testing.T, rec *recorder) events.Event {
	t.Helper()
	select {
	case ev := <-rec.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return events.Event{}
}

func TestPipelineDispatchesLogLinesInOrder(t *testing.T) {
	src := &fakeSource{info: &rcon.GameInfo{}}
	_, path, rec := startPipeline(t, src)
	time.Sleep(50 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	lines := "  3:17 Kill: 8 5 46: Hunter killed Prey by UT_MOD_SR8\n" +
		"  3:18 say: 8 Hunter: gg\n" +
		"  3:19 ShutdownGame:\n"
	if _, err := f.WriteString(lines); err != nil {
		t.Fatal(err)
	}
	f.Close()

	want := []events.Kind{events.KindKill, events.KindSay, events.KindShutdownGame}
	for i, kind := range want {
		ev := nextEvent(t, rec)
		if ev.Kind != kind {
			t.Fatalf("event %d = %s, want %s", i, ev.Kind, kind)
		}
		if ev.Synthetic {
			t.Errorf("event %d unexpectedly synthetic", i)
		}
	}
}

func TestPipelineEmitsRosterEvents(t *testing.T) {
	src := &fakeSource{info: &rcon.GameInfo{}}
	bot, _, rec := startPipeline(t, src)

	src.set(&rcon.GameInfo{Players: []rcon.RosterEntry{
		{Slot: 3, Name: "Walker", Auth: "walker", Team: "RED"},
	}})

	ev := nextEvent(t, rec)
	if ev.Kind != events.KindConnect || !ev.Synthetic {
		t.Fatalf("event = %+v, want synthetic connect", ev)
	}
	if ev.Fields[events.FieldName] != "Walker" {
		t.Errorf("name = %q", ev.Fields[events.FieldName])
	}

	if _, ok := bot.Players().Get(3); !ok {
		t.Error("registry missing slot 3 after reconciliation")
	}

	// player leaves the roster: the registry follows and a synthetic
	// disconnect flows through the same queue
	src.set(&rcon.GameInfo{})
	ev = nextEvent(t, rec)
	if ev.Kind != events.KindDisconnect || !ev.Synthetic {
		t.Fatalf("event = %+v, want synthetic disconnect", ev)
	}
	if _, ok := bot.Players().Get(3); ok {
		t.Error("registry still has slot 3 after reconciliation")
	}
}

func TestPipelineCountsParseFailures(t *testing.T) {
	src := &fakeSource{info: &rcon.GameInfo{}}
	bot, path, rec := startPipeline(t, src)
	time.Sleep(50 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("   \n  3:20 InitRound:\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	ev := nextEvent(t, rec)
	if ev.Kind != events.KindInitRound {
		t.Fatalf("event = %s, want initround", ev.Kind)
	}
	if got := bot.ParseFailures(); got != 1 {
		t.Errorf("parse failures = %d, want 1", got)
	}
}
