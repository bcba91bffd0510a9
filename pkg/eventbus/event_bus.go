// Package eventbus provides event-driven communication between the process
// engine, the automation engine and the SLA monitor.
package eventbus

import (
	"context"

	"github.com/megicode/stepflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish emits an engine event. The key is the process instance ID,
	// which keeps one instance's events ordered on partitioned transports.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event interface{}) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
