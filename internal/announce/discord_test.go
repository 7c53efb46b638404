package announce

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func testChannel(t *testing.T) *DiscordChannel {
	t.Helper()
	dc, err := NewDiscordChannel("test-token", "chan-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	return dc
}

func inboundMsg(channelID, author, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: "u1", Username: author},
	}}
}

func TestOnMessageRelays(t *testing.T) {
	dc := testChannel(t)

	dc.onMessage(dc.session, inboundMsg("chan-1", "alice", "hello"))

	select {
	case got := <-dc.Messages():
		if got.Author != "alice" || got.Content != "hello" || got.Source != "Discord" {
			t.Errorf("relayed message = %+v", got)
		}
	default:
		t.Fatal("message not relayed")
	}
}

func TestOnMessageIgnoresOtherChannelsAndBots(t *testing.T) {
	dc := testChannel(t)

	dc.onMessage(dc.session, inboundMsg("chan-2", "alice", "wrong channel"))
	bot := inboundMsg("chan-1", "somebot", "beep")
	bot.Author.Bot = true
	dc.onMessage(dc.session, bot)

	select {
	case got := <-dc.Messages():
		t.Errorf("unexpected relay: %+v", got)
	default:
	}
}

func TestOnMessageDropsWhenRelayFull(t *testing.T) {
	dc := testChannel(t)
	for i := 0; i < cap(dc.inbound); i++ {
		dc.inbound <- InboundMessage{}
	}

	done := make(chan struct{})
	go func() {
		dc.onMessage(dc.session, inboundMsg("chan-1", "alice", "overflow"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onMessage blocked on a full relay queue")
	}
}
