package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/megicode/stepflow/pkg/channels/gochannel"
	"github.com/megicode/stepflow/pkg/channels/kafka"
	"github.com/megicode/stepflow/pkg/eventbus"
)

// NewEventBus creates the engine event bus. "kafka" connects to the brokers
// named by KAFKA_BROKERS; anything else uses the in-process channel. A non-nil
// tracer adds a span around every consumed message.
func NewEventBus(provider, serviceName string, logger *slog.Logger, tracer trace.Tracer) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch provider {
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka channel: %w", err)
		}
	default:
		pub, sub, err = gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel channel: %w", err)
		}
	}

	if tracer != nil {
		return eventbus.NewTracedEventBus(pub, sub, tracer), nil
	}

	return eventbus.NewWatermillEventBus(pub, sub), nil
}
