package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tasklane/tasklane/pkg/events"
)

// decoders maps an event type to a constructor for its concrete struct, so
// the subscribe loop can unmarshal payloads without a type switch.
var decoders = map[events.EventType]func() any{
	events.TaskStartedEvent:      func() any { return &events.TaskStarted{} },
	events.TaskCompletedEvent:    func() any { return &events.TaskCompleted{} },
	events.TaskRetriedEvent:      func() any { return &events.TaskRetried{} },
	events.TaskFailedEvent:       func() any { return &events.TaskFailed{} },
	events.TaskCancelledEvent:    func() any { return &events.TaskCancelled{} },
	events.InstanceStartedEvent:  func() any { return &events.InstanceStarted{} },
	events.InstanceFinishedEvent: func() any { return &events.InstanceFinished{} },
	events.SLAViolationEvent:     func() any { return &events.SLAViolation{} },
}

// WatermillEventBus carries lifecycle events over a watermill
// publisher/subscriber pair. Payloads are JSON; the event type and the
// partition key travel in message metadata.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if eb.dispatch(ctx, msg) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	return nil
}

// dispatch decodes and hands one message to its registered handler. It
// reports whether the message should be acked; messages nobody listens for
// are acked so they never wedge the stream.
func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) bool {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, registered := eb.handlers[eventType]
	eb.mu.RUnlock()

	if !registered {
		return true
	}

	decode, known := decoders[eventType]
	if !known {
		return false
	}

	event := decode()

	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return false
	}

	return handler(ctx, event) == nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
