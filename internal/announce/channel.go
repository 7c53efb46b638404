// Package announce posts formatted game summaries to external chat
// platforms. It consumes events through the dispatcher's handler interface
// only; the pipeline knows nothing about it.
package announce

import (
	"context"

	"github.com/urt30plus/urt30t/internal/events"
)

// Channel abstracts an external chat platform (Discord, Slack, ...).
type Channel interface {
	Name() string
	Send(ctx context.Context, ev events.Event) error
	Messages() <-chan InboundMessage
	Start(ctx context.Context) error
	Close() error
}

// InboundMessage is a message from an external channel destined for the
// game server.
type InboundMessage struct {
	Source  string
	Author  string
	Content string
}

// Subscriber forwards bus events to a channel without blocking the
// dispatch turn.
type Subscriber struct {
	events chan events.Event
}

func NewSubscriber() *Subscriber {
	return &Subscriber{events: make(chan events.Event, 100)}
}

func (s *Subscriber) HandleEvent(_ context.Context, ev events.Event) error {
	select {
	case s.events <- ev:
	default:
		// Drop event if the channel is full rather than stall dispatch
	}
	return nil
}

// FanOut reads buffered events and sends them to all channels.
func (s *Subscriber) FanOut(ctx context.Context, channels []Channel, onErr func(name string, err error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			for _, ch := range channels {
				if err := ch.Send(ctx, ev); err != nil && onErr != nil {
					onErr(ch.Name(), err)
				}
			}
		}
	}
}
