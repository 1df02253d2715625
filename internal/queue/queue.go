package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/flowline/internal/logging"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/pkg/schema"
)

// Processor executes one queued job to a terminal state.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

type item struct {
	jobID string
	done  chan struct{}
}

// Queue is an unbounded in-process FIFO with a single sequential drain
// loop. Multiple callers may enqueue concurrently; at most one job is
// processed at a time, and a processor error never halts the drain of
// subsequent jobs.
//
// Enqueue returns a channel that closes once the job reaches a terminal
// state, so callers wait on completion instead of polling the store.
// In-flight items are lost on process restart (accepted limitation).
type Queue struct {
	processor Processor
	hub       streaming.EventHub
	logger    *slog.Logger

	mu       sync.Mutex
	items    []*item
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue draining into the given processor. Events are
// published to the hub as jobs are queued.
func New(processor Processor, hub streaming.EventHub, logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		processor: processor,
		hub:       hub,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue appends the job to the queue, starting a drain goroutine if none
// is running. The returned channel closes when the job has been processed
// to a terminal state (or the queue is closed).
func (q *Queue) Enqueue(ctx context.Context, jobID string) <-chan struct{} {
	it := &item{jobID: jobID, done: make(chan struct{})}

	q.mu.Lock()
	q.items = append(q.items, it)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	_ = q.hub.Publish(ctx, streaming.StreamEvent{
		EventType: schema.EventJobQueued,
		JobID:     jobID,
	})

	if start {
		q.wg.Add(1)
		go q.drain()
	}
	return it.done
}

// Len reports the number of queued, not-yet-processed jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the drain loop after the current job and releases all
// waiters. Jobs still queued are discarded.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	remaining := q.items
	q.items = nil
	q.mu.Unlock()
	for _, it := range remaining {
		close(it.done)
	}
}

// drain pops items strictly in order until the queue is empty, then exits.
// Another drain goroutine starts on the next Enqueue.
func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.ctx.Err() != nil {
			q.draining = false
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		ctx := logging.WithJobID(q.ctx, it.jobID)
		if err := q.processor.Process(ctx, it.jobID); err != nil {
			q.logger.ErrorContext(ctx, "job processing failed",
				slog.String("job_id", it.jobID),
				slog.String("error", err.Error()))
		}
		close(it.done)
	}
}
