package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/pkg/schema"
)

// recordingProcessor records the order jobs were processed in and can fail
// selected job IDs.
type recordingProcessor struct {
	mu        sync.Mutex
	order     []string
	active    int
	maxActive int
	failIDs   map[string]bool
	delay     time.Duration
}

func (p *recordingProcessor) Process(_ context.Context, jobID string) error {
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.order = append(p.order, jobID)
	p.active--
	fail := p.failIDs[jobID]
	p.mu.Unlock()

	if fail {
		return errors.New("boom")
	}
	return nil
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

func newTestQueue(p Processor) *Queue {
	return New(p, streaming.NewMemoryHub(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQueueProcessesInOrder(t *testing.T) {
	p := &recordingProcessor{}
	q := newTestQueue(p)
	defer q.Close()

	ctx := context.Background()
	var dones []<-chan struct{}
	for _, id := range []string{"j1", "j2", "j3"} {
		dones = append(dones, q.Enqueue(ctx, id))
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not complete")
		}
	}
	assert.Equal(t, []string{"j1", "j2", "j3"}, p.processed())
}

func TestQueueNeverConcurrent(t *testing.T) {
	p := &recordingProcessor{delay: 10 * time.Millisecond}
	q := newTestQueue(p)
	defer q.Close()

	ctx := context.Background()
	var dones []<-chan struct{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		dones = append(dones, q.Enqueue(ctx, id))
	}
	for _, done := range dones {
		<-done
	}
	assert.Equal(t, 1, p.maxActive)
}

func TestQueueErrorDoesNotHaltDrain(t *testing.T) {
	p := &recordingProcessor{failIDs: map[string]bool{"bad": true}}
	q := newTestQueue(p)
	defer q.Close()

	ctx := context.Background()
	d1 := q.Enqueue(ctx, "bad")
	d2 := q.Enqueue(ctx, "good")

	<-d1
	select {
	case <-d2:
	case <-time.After(2 * time.Second):
		t.Fatal("drain halted after processor error")
	}
	assert.Equal(t, []string{"bad", "good"}, p.processed())
}

func TestQueuePublishesQueuedEvent(t *testing.T) {
	hub := streaming.NewMemoryHub()
	p := &recordingProcessor{}
	q := New(p, hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer q.Close()

	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{EventTypes: []string{schema.EventJobQueued}})
	require.NoError(t, err)
	defer cancel()

	done := q.Enqueue(ctx, "j1")
	<-done

	select {
	case ev := <-ch:
		assert.Equal(t, "j1", ev.JobID)
	case <-time.After(time.Second):
		t.Fatal("queued event not published")
	}
}

func TestQueueCloseReleasesWaiters(t *testing.T) {
	p := &recordingProcessor{delay: 50 * time.Millisecond}
	q := newTestQueue(p)

	ctx := context.Background()
	var dones []<-chan struct{}
	for i := 0; i < 10; i++ {
		dones = append(dones, q.Enqueue(ctx, "j"))
	}
	q.Close()

	for _, done := range dones {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not released on close")
		}
	}
}
