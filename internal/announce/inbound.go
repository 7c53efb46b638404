package announce

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Speaker broadcasts a message into the game. *rcon.Client satisfies it.
type Speaker interface {
	Say(msg string) error
}

// HandleInbound reads messages from a channel and relays them into the
// game server chat.
func HandleInbound(ctx context.Context, ch Channel, speaker Speaker) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch.Messages():
			relay(speaker, msg)
		}
	}
}

func relay(speaker Speaker, msg InboundMessage) {
	safe := strings.ReplaceAll(msg.Content, `"`, `'`)
	safe = strings.ReplaceAll(safe, "\n", " ")
	if len(safe) > 200 {
		safe = safe[:200] + "..."
	}

	if err := speaker.Say(fmt.Sprintf("[%s] %s: %s", msg.Source, msg.Author, safe)); err != nil {
		log.Printf("announce: relay from %s: %v", msg.Source, err)
	}
}
