package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblisite/synthralos-engine/pkg/channels/gochannel"
	"github.com/weblisite/synthralos-engine/pkg/events"
	"github.com/weblisite/synthralos-engine/pkg/models"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)

	received := make(chan *events.ExecutionQueued, 1)
	require.NoError(t, bus.Handle(events.ExecutionQueuedEvent, func(_ context.Context, event any) error {
		queued, ok := event.(*events.ExecutionQueued)
		require.True(t, ok)
		received <- queued

		return nil
	}))

	require.NoError(t, bus.Subscribe(ctx))

	queued := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, "wf-1", "exec-1"),
		TriggerType: models.TriggerTypeManual,
	}
	require.NoError(t, bus.Publish(ctx, "exec-1", queued))

	select {
	case got := <-received:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, models.TriggerTypeManual, got.TriggerType)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestWatermillEventBus_UnknownTypeIsIgnored(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)

	handled := make(chan struct{}, 1)
	require.NoError(t, bus.Handle(events.NodeCompletedEvent, func(_ context.Context, _ any) error {
		handled <- struct{}{}

		return nil
	}))

	require.NoError(t, bus.Subscribe(ctx))

	// An event type nobody registered for must be acked and dropped.
	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionPaused{
		BaseEvent: events.NewBaseEvent(events.ExecutionPausedEvent, "wf-1", "exec-1"),
	}))

	select {
	case <-handled:
		t.Fatal("handler fired for unrelated event type")
	case <-time.After(100 * time.Millisecond):
	}
}
