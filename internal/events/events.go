// Package events publishes wager lifecycle events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Channel is the pub/sub channel prefix; the event kind is appended, e.g.
// "wagers.wager_placed".
const Channel = "wagers"

// ChannelFor returns the pub/sub channel for an event kind.
func ChannelFor(kind string) string {
	return Channel + "." + kind
}

// BusPublisher publishes events on the signal bus. When Stream is set each
// event is also appended to that stream for consumers that need replay.
type BusPublisher struct {
	bus    domain.SignalBus
	stream string
}

// NewBusPublisher creates a BusPublisher. stream may be empty.
func NewBusPublisher(bus domain.SignalBus, stream string) *BusPublisher {
	return &BusPublisher{bus: bus, stream: stream}
}

// PublishWagerEvent marshals ev and publishes it.
func (p *BusPublisher) PublishWagerEvent(ctx context.Context, ev domain.WagerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Kind, err)
	}
	if err := p.bus.Publish(ctx, ChannelFor(ev.Kind), payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Kind, err)
	}
	if p.stream != "" {
		if err := p.bus.StreamAppend(ctx, p.stream, payload); err != nil {
			return fmt.Errorf("events: append %s: %w", ev.Kind, err)
		}
	}
	return nil
}

// Multi fans an event out to several publishers. Every publisher is tried
// and their errors are joined.
type Multi []domain.EventPublisher

// PublishWagerEvent implements domain.EventPublisher.
func (m Multi) PublishWagerEvent(ctx context.Context, ev domain.WagerEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishWagerEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ domain.EventPublisher = (*BusPublisher)(nil)
	_ domain.EventPublisher = Multi(nil)
)
