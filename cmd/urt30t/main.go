package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/urt30plus/urt30t/internal/announce"
	"github.com/urt30plus/urt30t/internal/command"
	"github.com/urt30plus/urt30t/internal/config"
	"github.com/urt30plus/urt30t/internal/core"
	"github.com/urt30plus/urt30t/internal/dispatch"
	"github.com/urt30plus/urt30t/internal/events"
	"github.com/urt30plus/urt30t/internal/logtail"
	"github.com/urt30plus/urt30t/internal/observe"
	"github.com/urt30plus/urt30t/internal/rcon"
	"github.com/urt30plus/urt30t/internal/registry"
	"github.com/urt30plus/urt30t/internal/roster"
	"github.com/urt30plus/urt30t/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Shared control channel
	control := rcon.NewClient(cfg.RCON.Host, cfg.RCON.Port, cfg.RCON.Password)
	defer control.Close()

	// Profile store
	profiles, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer profiles.Close()

	// OTel exporters
	var metrics *observe.Metrics
	var eventLogger *observe.EventLogger
	if cfg.OTel.Enabled {
		metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure())
		if err != nil {
			log.Fatalf("metric exporter: %v", err)
		}
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		)
		defer meterProvider.Shutdown(ctx)
		metrics, err = observe.NewMetrics(meterProvider.Meter(cfg.OTel.ServiceName))
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}

		logExporter, err := otlploggrpc.New(ctx, otlploggrpc.WithInsecure())
		if err != nil {
			log.Fatalf("log exporter: %v", err)
		}
		loggerProvider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		)
		defer loggerProvider.Shutdown(ctx)
		eventLogger = observe.NewEventLogger(loggerProvider.Logger(cfg.OTel.ServiceName))
	}

	// Pipeline components
	players := registry.New()

	bus := dispatch.NewBus(dispatch.WithHandlerTimeout(cfg.Dispatch.HandlerTimeout))
	if metrics != nil {
		bus.OnFailure = func(name string, _ events.Event, _ error) {
			metrics.RecordHandlerFailure(ctx, name)
		}
	}

	tailerOpts := []logtail.Option{
		logtail.WithReadDelay(cfg.Game.ReadDelay),
		logtail.WithMaxErrors(cfg.Game.MaxReadErrors),
	}
	if cfg.Game.ReplayFromStart {
		tailerOpts = append(tailerOpts, logtail.WithReplayFromStart())
	}
	tailer := logtail.New(cfg.Game.LogPath, tailerOpts...)

	var bot *core.Bot
	rosterSync := roster.New(control, players, func(ev events.Event) { bot.Enqueue(ev) },
		roster.WithInterval(cfg.Roster.Interval),
		roster.WithMaxFailures(cfg.Roster.MaxFailures),
	)
	if metrics != nil {
		rosterSync.OnFailure = func(error) {
			metrics.ControlFailures.Add(ctx, 1)
			if rosterSync.Degraded() {
				metrics.Degraded.Record(ctx, 1)
			}
		}
	}
	rosterSync.OnGameInfo = func(info *rcon.GameInfo) {
		if metrics != nil {
			metrics.Degraded.Record(ctx, 0)
		}
		bot.SetGame(core.GameState{
			MapName:  info.MapName,
			GameType: info.GameType,
			Warmup:   info.Warmup,
		})
	}

	bot = core.New(tailer, rosterSync, bus, players,
		core.WithQueueSize(cfg.Dispatch.QueueSize),
		core.WithMetrics(metrics),
	)

	// Handlers
	core.NewGameStateHandler(bot, profiles).Subscribe(bus)

	commands := command.NewDispatcher(players, control,
		command.WithMarker(cfg.Commands.Marker[0]),
		command.WithCooldown(cfg.Commands.Cooldown),
		command.WithMessagePrefix(cfg.Commands.MessagePrefix),
	)
	if err := core.RegisterBuiltins(commands, bot, profiles); err != nil {
		log.Fatalf("commands: %v", err)
	}
	for _, kind := range []events.Kind{events.KindSay, events.KindSayTeam, events.KindSayTell} {
		bus.Subscribe(kind, 0, "commands", commands)
	}

	if eventLogger != nil {
		bus.Subscribe(events.KindAny, 100, "otel", eventLogger)
	}

	var wg sync.WaitGroup

	// Discord channel (optional)
	var channels []announce.Channel
	if cfg.Discord.Enabled {
		dc, err := announce.NewDiscordChannel(cfg.Discord.BotToken, cfg.Discord.ChannelID,
			func(kind events.Kind) bool { return cfg.DiscordEventAllowed(string(kind)) })
		if err != nil {
			log.Fatalf("discord: %v", err)
		}
		channels = append(channels, dc)
	}
	if len(channels) > 0 {
		sub := announce.NewSubscriber()
		bus.Subscribe(events.KindAny, 50, "announce", sub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.FanOut(ctx, channels, func(name string, err error) {
				log.Printf("send to %s: %v", name, err)
			})
		}()
		for _, ch := range channels {
			wg.Add(1)
			go func(c announce.Channel) {
				defer wg.Done()
				if err := c.Start(ctx); err != nil {
					log.Printf("channel %s: %v", c.Name(), err)
				}
			}(ch)

			wg.Add(1)
			go func(c announce.Channel) {
				defer wg.Done()
				announce.HandleInbound(ctx, c, control)
			}(ch)
		}
	}

	log.Printf("urt30t started (log=%s, rcon=%s:%s, discord=%v)",
		cfg.Game.LogPath, cfg.RCON.Host, cfg.RCON.Port, cfg.Discord.Enabled)

	if err := bot.Run(ctx); err != nil {
		cancel()
		wg.Wait()
		log.Fatalf("pipeline: %v", err)
	}
	cancel()
	wg.Wait()
	log.Println("shutting down")
}
