package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowline/pkg/schema"
)

func TestMemoryHubPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{
		EventType:  schema.EventJobCompleted,
		JobID:      "job-1",
		ResourceID: "agent-1",
	}))

	select {
	case ev := <-ch:
		assert.Equal(t, schema.EventJobCompleted, ev.EventType)
		assert.Equal(t, "job-1", ev.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected event not received")
	}
}

func TestMemoryHubFilters(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		ResourceID: "wf-1",
		EventTypes: []string{schema.EventRunCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventRunStarted, ResourceID: "wf-1"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventRunCompleted, ResourceID: "wf-2"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventRunCompleted, ResourceID: "wf-1"}))

	select {
	case ev := <-ch:
		assert.Equal(t, "wf-1", ev.ResourceID)
		assert.Equal(t, schema.EventRunCompleted, ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected filtered event not received")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestMemoryHubCancelledSubscriberStopsReceiving(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventJobQueued}))

	select {
	case ev := <-ch:
		t.Fatalf("cancelled subscriber received event: %+v", ev)
	default:
	}
}
