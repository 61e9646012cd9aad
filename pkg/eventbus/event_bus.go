// Package eventbus carries lifecycle events between the store, the run simulator and their
// subscribers.
package eventbus

import (
	"context"

	"github.com/dukex/crmflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Nop discards every event. It is used when no bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
