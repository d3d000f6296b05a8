package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	buf := NewRingBuffer[int](3)
	require.Nil(t, buf.Snapshot())

	buf.Add(1)
	buf.Add(2)
	require.Equal(t, []int{1, 2}, buf.Snapshot())

	buf.Add(3)
	buf.Add(4)
	require.Equal(t, []int{2, 3, 4}, buf.Snapshot())
}

func TestHubSnapshotStampsTimestamps(t *testing.T) {
	hub := NewHub(8)
	hub.Record(Event{Category: CategoryProcess, Message: "spawned"})

	events := hub.Snapshot()
	require.Len(t, events, 1)
	require.Equal(t, "spawned", events[0].Message)
	require.False(t, events[0].Timestamp.IsZero())
}

func TestHubSubscribeReceivesEvents(t *testing.T) {
	hub := NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx)
	hub.Record(Event{Category: CategoryManager, Message: "aggregated"})

	select {
	case event := <-ch:
		require.Equal(t, "aggregated", event.Message)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = hub.Subscribe(ctx)
	// Channel capacity is 64; overflow past it must not stall Record.
	for i := 0; i < 200; i++ {
		hub.Record(Event{Category: CategorySession, Message: "tick"})
	}
	require.Len(t, hub.Snapshot(), 8)
}
