// Package events carries live provisioning notifications to dashboards.
// Delivery is best-effort: publishers log failures and never fail the caller.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeProvisioningAudit  = "provisioning.audit"
	TypeProvisioningStatus = "provisioning.status"
)

// Event is the envelope shared by every transport.
type Event struct {
	Type     string          `json:"event"`
	TenantID uuid.UUID       `json:"tenantId"`
	Data     json.RawMessage `json:"data,omitempty"`
	At       time.Time       `json:"at"`
}

// New marshals data into an Event.
func New(eventType string, tenantID uuid.UUID, data any, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{Type: eventType, TenantID: tenantID, Data: raw, At: at.UTC()}, nil
}

// Publisher sends events to listeners.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber delivers events published by any instance to handler until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(Event)) (cancel func(), err error)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	ch chan Event
}

func NewRecorder(buffer int) *Recorder {
	return &Recorder{ch: make(chan Event, buffer)}
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	select {
	case r.ch <- evt:
		return nil
	default:
		return errors.New("recorder buffer full")
	}
}

// Drain returns every event published so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case evt := <-r.ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}
