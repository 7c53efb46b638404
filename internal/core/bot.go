// Package core wires the pipeline together: log tailer -> parser -> event
// queue -> dispatcher, with the roster synchronizer feeding the same queue.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/urt30plus/urt30t/internal/dispatch"
	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/logtail"
	"github.com/urt30plus/urt30t/internal/observe"
	"github.com/urt30plus/urt30t/internal/parser"
	"github.com/urt30plus/urt30t/internal/registry"
	"github.com/urt30plus/urt30t/internal/roster"
)

// GameState is the last session header reported by the control channel.
type GameState struct {
	MapName  string
	GameType string
	Warmup   bool
}

// Bot owns the single logical pipeline: it consumes the log source, parses
// lines, and drives dispatch sequentially so handlers observe events in
// log order.
type Bot struct {
	tailer  *logtail.Tailer
	sync    *roster.Synchronizer
	bus     *dispatch.Bus
	players *registry.Registry
	metrics *observe.Metrics

	queue chan events.Event
	seq   uint64

	grace time.Duration

	mu            sync.Mutex
	game          GameState
	parseFailures int
}

type Option func(*Bot)

// WithQueueSize sets the event queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bot) { b.queue = make(chan events.Event, n) }
}

// WithMetrics attaches failure and throughput counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithShutdownGrace bounds how long in-flight dispatch may run after the
// context is cancelled.
func WithShutdownGrace(d time.Duration) Option {
	return func(b *Bot) { b.grace = d }
}

func New(tailer *logtail.Tailer, sync *roster.Synchronizer, bus *dispatch.Bus, players *registry.Registry, opts ...Option) *Bot {
	b := &Bot{
		tailer:  tailer,
		sync:    sync,
		bus:     bus,
		players: players,
		queue:   make(chan events.Event, 100),
		grace:   5 * time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Players exposes the registry for wiring and handlers.
func (b *Bot) Players() *registry.Registry { return b.players }

// Game returns a copy of the current game state.
func (b *Bot) Game() GameState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.game
}

// SetGame replaces the tracked game state; the roster synchronizer calls
// this on each successful poll.
func (b *Bot) SetGame(g GameState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.game = g
}

// ParseFailures reports how many lines failed structural parsing.
func (b *Bot) ParseFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parseFailures
}

// Enqueue places an event on the pipeline queue without blocking. The
// roster synchronizer and internal handlers feed synthetic events through
// here so they share ordering with parsed ones.
func (b *Bot) Enqueue(ev events.Event) {
	select {
	case b.queue <- ev:
	default:
		// queue full: favor the parsed stream over synthetic events
		log.Printf("core: event queue full, dropping synthetic %s", ev.Kind)
	}
}

// Run drives the pipeline until ctx is cancelled or the log source fails.
// A log source failure is fatal: the daemon must not keep running while
// silently blind to the log.
func (b *Bot) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.tailer.Run(runCtx); err != nil {
			var srcErr *logtail.SourceError
			if errors.As(err, &srcErr) {
				cancel(fmt.Errorf("log source failed: %w", err))
				return
			}
			cancel(err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.readLines(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.sync.Run(runCtx)
	}()

	b.dispatchLoop(runCtx)

	// bounded grace period for goroutines to drain
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.grace):
		log.Printf("core: shutdown grace period expired, abandoning in-flight work")
	}

	if err := context.Cause(runCtx); err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	return nil
}

// readLines turns raw tailer output into events on the queue. Parsing is
// pure and cheap; it runs concurrently with the dispatch of the previous
// event.
func (b *Bot) readLines(ctx context.Context) {
	for line := range b.tailer.Lines() {
		var ev events.Event
		if line.Rotated {
			ev = events.Event{
				Kind:      events.KindLogRotate,
				Time:      time.Now(),
				Fields:    map[string]string{},
				Synthetic: true,
			}
		} else {
			b.mu.Lock()
			b.seq++
			seq := b.seq
			b.mu.Unlock()
			var err error
			ev, err = parser.Parse(line.Text, seq)
			if err != nil {
				b.mu.Lock()
				b.parseFailures++
				b.mu.Unlock()
				if b.metrics != nil {
					b.metrics.ParseFailures.Add(ctx, 1)
				}
				continue
			}
		}
		select {
		case b.queue <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// dispatchLoop delivers queued events one at a time. Dispatch for event N
// completes (or times out per handler) before event N+1 begins, preserving
// the causal ordering handlers rely on.
func (b *Bot) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			if b.metrics != nil {
				b.metrics.RecordEvent(ctx, ev.Kind)
			}
			b.bus.Dispatch(ctx, ev)
		}
	}
}
