package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/platform/go/events"
)

// liveEvents is the publisher handed to the provisioning domain plus the
// local dashboard hub.
type liveEvents struct {
	Publisher events.Publisher
	Hub       *events.Hub
	close     []func()
}

func (l *liveEvents) Close() {
	for i := len(l.close) - 1; i >= 0; i-- {
		l.close[i]()
	}
}

// buildLiveEvents connects the configured bus. With a bus, the hub is fed by
// the bus subscription so dashboards on every instance see every event.
func buildLiveEvents(ctx context.Context, cfg config, logger *zap.Logger) (*liveEvents, error) {
	hub := events.NewHub(logger.Named("events"), nil)
	out := &liveEvents{Hub: hub}

	var bus interface {
		events.Publisher
		events.Subscriber
	}
	switch cfg.EventsBackend {
	case "", "none":
		out.Publisher = hub
		return out, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		out.close = append(out.close, func() { _ = client.Close() })
		bus = events.NewRedisBus(client, events.DefaultChannel, logger)
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("palmyra-owner-api"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		out.close = append(out.close, nc.Close)
		bus = events.NewNATSBus(nc, events.DefaultChannel, logger)
	default:
		return nil, fmt.Errorf("unsupported EVENTS_BACKEND %q", cfg.EventsBackend)
	}

	cancel, err := hub.Attach(ctx, bus)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("subscribe live events: %w", err)
	}
	out.close = append(out.close, cancel)
	out.Publisher = events.Multi{bus}
	logger.Info("live events enabled", zap.String("backend", cfg.EventsBackend))
	return out, nil
}
