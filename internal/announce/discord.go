package announce

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/rcon"
)

// DiscordChannel mirrors selected game events into a Discord channel and
// relays messages typed there back toward the game server.
type DiscordChannel struct {
	session   *discordgo.Session
	channelID string
	inbound   chan InboundMessage
	botUserID string
	allowed   func(events.Kind) bool
}

// NewDiscordChannel builds a Discord channel. allowed filters which event
// kinds get posted; nil posts everything with a known format.
func NewDiscordChannel(token, channelID string, allowed func(events.Kind) bool) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discordgo session: %w", err)
	}

	dc := &DiscordChannel{
		session:   session,
		channelID: channelID,
		inbound:   make(chan InboundMessage, 100),
		allowed:   allowed,
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	session.AddHandler(dc.onMessage)

	return dc, nil
}

func (dc *DiscordChannel) Name() string { return "Discord" }

func (dc *DiscordChannel) Start(ctx context.Context) error {
	if err := dc.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	dc.botUserID = dc.session.State.User.ID
	log.Printf("discord bot connected as %s", dc.session.State.User.Username)

	<-ctx.Done()
	dc.session.Close()
	return nil
}

func (dc *DiscordChannel) Send(ctx context.Context, ev events.Event) error {
	if dc.allowed != nil && !dc.allowed(ev.Kind) {
		return nil
	}

	msg := formatEvent(ev)
	if msg == "" {
		return nil
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, msg)
	if err != nil {
		return fmt.Errorf("send to Discord: %w", err)
	}
	return nil
}

func (dc *DiscordChannel) Messages() <-chan InboundMessage { return dc.inbound }

func (dc *DiscordChannel) Close() error {
	return dc.session.Close()
}

func (dc *DiscordChannel) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.Bot || m.Author.ID == dc.botUserID {
		return
	}
	if m.ChannelID != dc.channelID {
		return
	}
	if m.Content == "" {
		return
	}

	author := m.Author.GlobalName
	if author == "" {
		author = m.Author.Username
	}

	select {
	case dc.inbound <- InboundMessage{
		Source:  "Discord",
		Author:  author,
		Content: m.Content,
	}:
	default:
		// Drop the message if the relay is behind rather than stall
		// discordgo's event loop
		log.Printf("discord: relay queue full, dropping message from %s", author)
	}
}

func formatEvent(ev events.Event) string {
	name := rcon.StripColors(ev.Fields[events.FieldName])
	switch ev.Kind {
	case events.KindSay:
		return fmt.Sprintf("💬 **%s**: %s", name, rcon.StripColors(ev.Fields[events.FieldText]))
	case events.KindConnect:
		if ev.Synthetic && name == "" {
			return ""
		}
		return fmt.Sprintf("➡️ **%s** connected", name)
	case events.KindDisconnect:
		if name == "" {
			return ""
		}
		return fmt.Sprintf("⬅️ **%s** disconnected", name)
	case events.KindKill:
		return fmt.Sprintf("💀 %s", rcon.StripColors(ev.Fields[events.FieldText]))
	case events.KindFlag:
		if ev.Fields[events.FieldAction] == "2" {
			return fmt.Sprintf("🚩 flag captured for **%s**", ev.Fields[events.FieldTeam])
		}
		return ""
	case events.KindInitGame:
		if m := ev.Fields["mapname"]; m != "" {
			return fmt.Sprintf("🗺️ new game on **%s**", m)
		}
		return ""
	case events.KindTeamScores:
		return fmt.Sprintf("🏁 final scores: red **%s**, blue **%s**",
			ev.Fields[events.FieldRed], ev.Fields[events.FieldBlue])
	case events.KindSurvivorWinner:
		if team := ev.Fields[events.FieldTeam]; team != "" {
			return fmt.Sprintf("🏆 round won by **%s**", team)
		}
		return ""
	default:
		return ""
	}
}
