// Package dispatch is the in-process event bus: one ordered delivery pass
// per event, with handler failures isolated from each other and from the
// pipeline.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/urt30plus/urt30t/internal/events"
)

// Handler receives events from the bus. Returning an error records a
// delivery failure for this event only.
type Handler interface {
	HandleEvent(ctx context.Context, ev events.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev events.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev events.Event) error {
	return f(ctx, ev)
}

type subscription struct {
	kind     events.Kind
	priority int
	order    int
	handler  Handler
	name     string
}

// Bus delivers each event to all interested handlers. Subscribe is called
// during startup wiring and is not safe concurrently with Dispatch.
type Bus struct {
	subs    map[events.Kind][]subscription
	any     []subscription
	nextOrd int

	timeout time.Duration

	// OnFailure is invoked for every handler error, timeout or panic.
	// Optional; used to feed failure counters.
	OnFailure func(name string, ev events.Event, err error)
}

type Option func(*Bus)

// WithHandlerTimeout bounds how long one handler may block a dispatch turn.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) { b.timeout = d }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[events.Kind][]subscription),
		timeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a handler for one event kind, or every kind via
// events.KindAny. Lower priority runs first; equal priorities run in
// registration order, with wildcard subscribers after kind-specific ones.
func (b *Bus) Subscribe(kind events.Kind, priority int, name string, h Handler) {
	sub := subscription{
		kind:     kind,
		priority: priority,
		order:    b.nextOrd,
		handler:  h,
		name:     name,
	}
	b.nextOrd++
	if kind == events.KindAny {
		b.any = append(b.any, sub)
		return
	}
	b.subs[kind] = append(b.subs[kind], sub)
}

// Dispatch runs one delivery pass. It returns only after every handler has
// run, failed or timed out, so callers get event N fully delivered before
// event N+1 begins.
func (b *Bus) Dispatch(ctx context.Context, ev events.Event) {
	specific := b.subs[ev.Kind]
	merged := make([]subscription, 0, len(specific)+len(b.any))
	merged = append(merged, specific...)
	merged = append(merged, b.any...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].priority != merged[j].priority {
			return merged[i].priority < merged[j].priority
		}
		// wildcard after kind-specific at equal priority
		iAny := merged[i].kind == events.KindAny
		jAny := merged[j].kind == events.KindAny
		if iAny != jAny {
			return jAny
		}
		return merged[i].order < merged[j].order
	})

	for _, sub := range merged {
		if ctx.Err() != nil {
			return
		}
		b.deliver(ctx, sub, ev)
	}
}

// deliver invokes a single handler with a bounded deadline, capturing
// panics so one bad handler cannot take down the dispatch turn.
func (b *Bus) deliver(ctx context.Context, sub subscription, ev events.Event) {
	hctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- sub.handler.HandleEvent(hctx, ev)
	}()

	var err error
	select {
	case err = <-done:
	case <-hctx.Done():
		err = fmt.Errorf("handler timeout after %s", b.timeout)
	}
	if err != nil {
		log.Printf("dispatch: %s failed on %s: %v", sub.name, ev.Kind, err)
		if b.OnFailure != nil {
			b.OnFailure(sub.name, ev, err)
		}
	}
}
