package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/megicode/stepflow/pkg/events"
	"github.com/megicode/stepflow/pkg/otelhelper"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
	tracer        trace.Tracer
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

// NewTracedEventBus is NewWatermillEventBus with a span around every handled
// message.
func NewTracedEventBus(pub message.Publisher, sub message.Subscriber, tracer trace.Tracer) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
		tracer:        tracer,
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event any

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			switch eventType {
			case events.ProcessStartedEvent:
				event = &events.ProcessStarted{}
			case events.ProcessCompletedEvent:
				event = &events.ProcessCompleted{}
			case events.ProcessCanceledEvent:
				event = &events.ProcessCanceled{}
			case events.StepEnteredEvent:
				event = &events.StepEntered{}
			case events.StepCompletedEvent:
				event = &events.StepCompleted{}
			case events.StepSkippedEvent:
				event = &events.StepSkipped{}
			case events.StepAssignedEvent:
				event = &events.StepAssigned{}
			case events.StepReassignedEvent:
				event = &events.StepReassigned{}
			case events.GatewayCrossedEvent:
				event = &events.GatewayCrossed{}
			case events.AutomationExecutedEvent:
				event = &events.AutomationExecuted{}
			case events.AutomationFailedEvent:
				event = &events.AutomationFailed{}
			case events.SLAWarningEvent:
				event = &events.SLAWarning{}
			case events.SLACriticalEvent:
				event = &events.SLACritical{}
			case events.SLAEscalatedEvent:
				event = &events.SLAEscalated{}
			default:
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				msg.Nack()

				continue
			}

			err = eb.handle(ctx, handler, eventType, msg, event)
			if err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) handle(
	ctx context.Context,
	handler EventHandler,
	eventType events.EventType,
	msg *message.Message,
	event any,
) error {
	if eb.tracer == nil {
		return handler(ctx, event)
	}

	spanCtx, span := otelhelper.StartSpan(ctx, eb.tracer, "eventbus consume",
		attribute.String(otelhelper.EventTypeKey, string(eventType)),
		attribute.String(otelhelper.EventIDKey, msg.UUID),
		attribute.String(otelhelper.InstanceIDKey, msg.Metadata.Get(events.EventMetadataKey)),
	)
	defer span.End()

	err := handler(spanCtx, event)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
