package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus broadcasts events across API instances over a NATS subject.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

func NewNATSBus(nc *nats.Conn, subject string, logger *zap.Logger) *NATSBus {
	if nc == nil {
		panic("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = DefaultChannel
	}
	return &NATSBus{nc: nc, subject: subject, logger: logger}
}

func (b *NATSBus) Publish(_ context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, body)
}

func (b *NATSBus) Subscribe(_ context.Context, handler func(Event)) (func(), error) {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn("drop malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
