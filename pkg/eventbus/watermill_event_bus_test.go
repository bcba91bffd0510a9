package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megicode/stepflow/pkg/channels/gochannel"
	"github.com/megicode/stepflow/pkg/eventbus"
	"github.com/megicode/stepflow/pkg/events"
)

func TestWatermillEventBusPublishSubscribe(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	received := make(chan *events.StepEntered, 1)

	err = bus.Handle(events.StepEnteredEvent, func(ctx context.Context, event any) error {
		entered, ok := event.(*events.StepEntered)
		require.True(t, ok)
		received <- entered

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	sent := events.StepEntered{
		BaseEvent: events.NewBaseEvent(events.StepEnteredEvent, "inst-1"),
		StepKey:   "screening",
		LaneKey:   "analyst",
		IsManual:  true,
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, "inst-1", got.InstanceID)
		assert.Equal(t, "screening", got.StepKey)
		assert.True(t, got.IsManual)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	event := events.ProcessCanceled{
		BaseEvent: events.NewBaseEvent(events.ProcessCanceledEvent, "inst-2"),
		Reason:    "deal dropped",
	}
	assert.NoError(t, bus.Publish(ctx, "inst-2", event))
}
