package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"loginrelay/internal/activity"
	"loginrelay/internal/api"
	"loginrelay/internal/config"
	"loginrelay/internal/device"
	"loginrelay/internal/eventstore"
	"loginrelay/internal/logging"
	"loginrelay/internal/metrics"
	"loginrelay/internal/model"
	"loginrelay/internal/refresher"
	"loginrelay/internal/storage"
	"loginrelay/internal/tracker"
	"loginrelay/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "loginrelay.yaml", "path to YAML or JSON config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ResolvePath(*configPath)); err != nil {
		fmt.Fprintln(os.Stderr, "loginrelay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	manager, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting loginrelay", "version", version, "role", cfg.Role, "origin", cfg.Origin, "config", path)

	backend, err := storage.NewBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()
	if err := backend.Init(ctx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	own := newStore(backend, cfg, cfg.Store.Namespace, logger)
	if n := own.Migrate(ctx); n > 0 {
		logger.Info("legacy login events folded in", "count", n)
	}

	m := metrics.NewStore(cfg.Metrics.StoreLimit)
	capturer := device.NewCapturer(cfg.Device.DefaultTimezone, cfg.Device.DefaultLanguage)
	deps := api.Deps{Config: manager, Metrics: m, Store: own, Logger: logger, Version: version}

	var redisPub *transport.RedisPublisher
	bc := cfg.Transport.Broadcast
	if bc.Enabled && strings.EqualFold(bc.Driver, "redis") {
		redisPub, err = transport.NewRedisPublisher(bc.Redis.URL, bc.Redis.Channel)
		if err != nil {
			return fmt.Errorf("redis broadcast: %w", err)
		}
		defer redisPub.Close()
	}

	if cfg.IsProducer() {
		d := &transport.Dispatcher{Origin: cfg.Origin, Metrics: m, Logger: logger}
		if cfg.Transport.Handoff.Enabled {
			d.Handoff = &transport.Handoff{
				ConsumerURL:     cfg.Transport.Handoff.ConsumerURL,
				IncludeActivity: cfg.Transport.Handoff.IncludeActivity,
			}
		}
		if cfg.Transport.Relay.Enabled {
			d.Relay = &transport.Relay{Backend: backend, Namespace: cfg.Transport.Relay.Namespace, Logger: logger}
		}
		if bc.Enabled {
			if redisPub != nil {
				d.Publisher = redisPub
			} else {
				kp := transport.NewKafkaPublisher(bc.Kafka)
				defer kp.Close()
				d.Publisher = kp
			}
		}
		deps.Tracker = &tracker.Tracker{Store: own, Capturer: capturer, Dispatcher: d, Logger: logger}
	}

	if cfg.IsConsumer() {
		board := activity.NewBoard()
		deps.Board = board
		if cfg.Transport.Handoff.Enabled {
			deps.Handoff = &transport.Handoff{Sink: own, Capturer: capturer, DashboardPath: cfg.Transport.Handoff.DashboardPath}
		}
		if cfg.Transport.Relay.Enabled {
			deps.Relay = &transport.Relay{Backend: backend, Namespace: cfg.Transport.Relay.Namespace, Sink: own, Capturer: capturer, Logger: logger}
		}
		receiver := transport.NewReceiver(own, bc.AllowedOrigins, m, logger)
		receiver.OnEvent = board.Add
		if bc.ReplayWindow > 0 {
			receiver.Replay = transport.NewReplayGuard(bc.ReplayWindow, 0)
		}
		deps.Receiver = receiver

		if bc.Enabled {
			in := make(chan model.Envelope, bc.ChannelBuffer)
			if redisPub != nil {
				transport.StartRedis(ctx, redisPub.Client(), bc.Redis.Channel, in, logger)
			} else {
				transport.StartKafka(ctx, bc.Kafka, in, logger)
			}
			go receiver.Run(ctx, in)
		}

		sources := []refresher.Source{own}
		for _, ns := range cfg.Store.Sources {
			if ns == "" || ns == cfg.Store.Namespace {
				continue
			}
			sources = append(sources, newStore(backend, cfg, ns, logger))
		}
		ref := refresher.New(sources, board, refresher.Options{
			Interval:    cfg.Refresher.Interval,
			ReadTimeout: cfg.Refresher.ReadTimeout,
		}, logger)
		deps.Refresher = ref
		ref.RefreshNow(ctx)
		if cfg.Refresher.Enabled {
			if err := ref.Start(); err != nil {
				return err
			}
			defer ref.Stop()
		}

		watchStop := make(chan struct{})
		defer close(watchStop)
		go manager.Watch(0, func(next *config.Config) {
			receiver.UpdateAllowList(next.Transport.Broadcast.AllowedOrigins)
			logger.Info("config reloaded", "allowed_origins", len(next.Transport.Broadcast.AllowedOrigins))
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, watchStop)
	}

	api.Start(ctx, deps)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func newStore(backend storage.Backend, cfg *config.Config, namespace string, logger *slog.Logger) *eventstore.Store {
	return eventstore.New(backend, eventstore.Options{
		Namespace:    namespace,
		CanonicalKey: cfg.Store.CanonicalKey,
		LegacyKeys:   cfg.Store.LegacyKeys,
		Capacity:     cfg.Store.Capacity,
	}, logger)
}
