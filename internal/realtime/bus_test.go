package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_DeliversPerUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()

	mine, err := bus.Subscribe(ctx, 1)
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{Kind: EventNotificationInserted, UserID: 1, NotificationID: "n1"}))

	select {
	case ev := <-mine:
		assert.Equal(t, "n1", ev.NotificationID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case ev := <-other:
		t.Fatalf("unexpected event for another user: %+v", ev)
	default:
	}
}

func TestMemoryBus_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewMemoryBus()
	ch, err := bus.Subscribe(ctx, 1)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	// Publishing with no subscribers is fine.
	assert.NoError(t, bus.Publish(context.Background(), Event{Kind: EventNotificationInserted, UserID: 1}))
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus()
	ch, err := bus.Subscribe(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.Error(t, bus.Publish(context.Background(), Event{UserID: 1}))
	_, err = bus.Subscribe(context.Background(), 1)
	assert.Error(t, err)
	assert.NoError(t, bus.Close())
}
