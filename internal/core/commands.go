package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/urt30plus/urt30t/internal/command"
	"github.com/urt30plus/urt30t/internal/registry"
	"github.com/urt30plus/urt30t/internal/store"
)

// RegisterBuiltins adds the bot's core commands to the dispatcher.
func RegisterBuiltins(d *command.Dispatcher, bot *Bot, profiles ProfileStore) error {
	defs := []command.Definition{
		{
			Name:     "help",
			MinLevel: registry.LevelGuest,
			MaxArgs:  1,
			Usage:    "help [command]",
			Help:     "list available commands, or describe one",
			Handler:  helpHandler(d),
		},
		{
			Name:     "leveltest",
			Aliases:  []string{"lt"},
			MinLevel: registry.LevelGuest,
			MaxArgs:  0,
			Help:     "show your access level",
			Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
				inv.Reply(fmt.Sprintf("%s is a %s", inv.Player.Name, inv.Player.Level))
				return nil
			}),
		},
		{
			Name:     "teams",
			MinLevel: registry.LevelUser,
			MaxArgs:  0,
			Help:     "show the current team sizes",
			Handler:  teamsHandler(bot),
		},
		{
			Name:     "putgroup",
			MinLevel: registry.LevelAdmin,
			MinArgs:  2,
			MaxArgs:  2,
			Usage:    "putgroup <player> <guest|user|friend|moderator|admin>",
			Help:     "set a player's access level",
			Handler:  putgroupHandler(bot, profiles),
		},
	}
	for _, def := range defs {
		if err := d.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func helpHandler(d *command.Dispatcher) command.Handler {
	return command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
		defs := d.Commands()
		if len(inv.Args) == 1 {
			want := strings.ToLower(inv.Args[0])
			for _, def := range defs {
				if def.Name == want {
					inv.Reply(fmt.Sprintf("!%s - %s", def.Name, def.Help))
					return nil
				}
			}
			inv.Reply(fmt.Sprintf("command [%s] not found", want))
			return nil
		}
		var names []string
		for _, def := range defs {
			if inv.Player.Level >= def.MinLevel {
				names = append(names, def.Name)
			}
		}
		inv.Reply("commands: " + strings.Join(names, ", "))
		return nil
	})
}

func teamsHandler(bot *Bot) command.Handler {
	return command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
		counts := map[string]int{}
		for _, p := range bot.Players().All() {
			counts[p.Team]++
		}
		inv.Reply(fmt.Sprintf("red %d, blue %d, spec %d",
			counts["RED"], counts["BLUE"], counts["SPECTATOR"]))
		return nil
	})
}

func putgroupHandler(bot *Bot, profiles ProfileStore) command.Handler {
	return command.HandlerFunc(func(ctx context.Context, inv *command.Invocation) error {
		target := strings.ToLower(inv.Args[0])
		level := registry.ParseLevel(strings.ToLower(inv.Args[1]))

		var matches []registry.Player
		for _, p := range bot.Players().All() {
			if strings.Contains(strings.ToLower(p.Name), target) {
				matches = append(matches, p)
			}
		}
		switch {
		case len(matches) == 0:
			inv.Reply("no players found: " + inv.Args[0])
			return nil
		case len(matches) > 1:
			var names []string
			for _, p := range matches {
				names = append(names, p.Name)
			}
			inv.Reply("which player? " + strings.Join(names, ", "))
			return nil
		}

		p := matches[0]
		if p.Auth == "" {
			inv.Reply(p.Name + " is not authenticated, cannot persist a level")
			return nil
		}
		bot.Players().Update(p.Slot, func(pl *registry.Player) { pl.Level = level })
		if profiles != nil {
			prof, err := profiles.LoadProfile(ctx, p.Auth)
			if err != nil {
				prof = store.Profile{Auth: p.Auth, Name: p.Name}
			}
			prof.Level = level
			if err := profiles.SaveProfile(ctx, prof); err != nil {
				return fmt.Errorf("persist level: %w", err)
			}
		}
		inv.Reply(fmt.Sprintf("%s is now a %s", p.Name, level))
		return nil
	})
}
