// Package events fans engine events out to the configured sinks: the Redis
// stream for downstream consumers and the operator notifier. Publication is
// fire-and-forget; a broken sink never blocks the trading path.
package events

import (
	"context"

	"github.com/updownlabs/updownbot/internal/domain"
)

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Bus delivers every event to all of its sinks.
type Bus struct {
	sinks []Sink
}

// NewBus creates a Bus over the given sinks; nil sinks are skipped.
func NewBus(sinks ...Sink) *Bus {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Bus{sinks: out}
}

// Publish fans the event out to every sink.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	for _, s := range b.sinks {
		s.Publish(ctx, ev)
	}
}
