// Package eventbus provides the audit event publishing infrastructure.
// Every task and instance transition the engine makes is mirrored onto the
// bus so external consumers can follow the lifecycle without polling the
// store.
package eventbus

import (
	"context"

	"github.com/tasklane/tasklane/pkg/events"
)

// Event is any payload that can travel over the bus. All lifecycle events
// in pkg/events satisfy it through their embedded BaseEvent.
type Event interface {
	GetType() events.EventType
}

// EventHandler processes one decoded event. A returned error nacks the
// message so the transport can redeliver it.
type EventHandler func(ctx context.Context, event any) error

// EventPublisher is the side the engine holds: fire-and-forget publication
// keyed by workflow so per-workflow ordering survives partitioned
// transports.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber is the consumer side. Handle registers interest in one
// event type; Subscribe starts the delivery loop and returns once it is
// running.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventBus combines both halves over a single underlying channel.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
