package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowline/internal/logging"
	"github.com/rendis/flowline/internal/metrics"
	"github.com/rendis/flowline/internal/provider"
	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/internal/vector"
	"github.com/rendis/flowline/pkg/schema"
)

// JobRequest describes a job to enqueue.
type JobRequest struct {
	ExecutionID string
	AgentID     string
	UserID      string
	Input       json.RawMessage
}

// jobQueue is the slice of the queue the runner needs for enqueueing.
type jobQueue interface {
	Enqueue(ctx context.Context, jobID string) <-chan struct{}
}

// Runner executes agent jobs: PENDING → RUNNING → {COMPLETED, FAILED}.
// It is the queue's processor and also the service callers use to enqueue.
type Runner struct {
	store    store.Store
	provider provider.Client
	index    *vector.Index
	hub      streaming.EventHub
	metrics  metrics.Recorder
	logger   *slog.Logger

	queue jobQueue
}

// NewRunner creates a Runner. The queue is attached afterwards with
// SetQueue since the queue itself needs the runner as its processor.
func NewRunner(s store.Store, p provider.Client, idx *vector.Index, hub streaming.EventHub, rec metrics.Recorder, logger *slog.Logger) *Runner {
	return &Runner{
		store:    s,
		provider: p,
		index:    idx,
		hub:      hub,
		metrics:  rec,
		logger:   logger,
	}
}

// SetQueue attaches the job queue the runner enqueues into.
func (r *Runner) SetQueue(q jobQueue) { r.queue = q }

// EnqueueJob persists a PENDING job and pushes it onto the queue. The
// returned channel closes when the job reaches a terminal state.
func (r *Runner) EnqueueJob(ctx context.Context, req JobRequest) (string, <-chan struct{}, error) {
	if req.AgentID == "" {
		return "", nil, schema.NewError(schema.ErrCodeValidation, "agent id is required")
	}

	job := &store.Job{
		ID:          uuid.NewString(),
		ExecutionID: req.ExecutionID,
		AgentID:     req.AgentID,
		UserID:      req.UserID,
		Input:       req.Input,
		Status:      schema.JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return "", nil, schema.NewError(schema.ErrCodeStore, "create job").WithCause(err)
	}

	done := r.queue.Enqueue(ctx, job.ID)
	return job.ID, done, nil
}

// Job loads a job by ID.
func (r *Runner) Job(ctx context.Context, id string) (*store.Job, error) {
	return r.store.GetJob(ctx, id)
}

// Process runs one job to a terminal state. Errors are persisted on the
// job and re-raised so a synchronous invoker observes the failure.
func (r *Runner) Process(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "load job").WithCause(err)
	}
	if job == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", jobID)
	}

	ctx = logging.WithJobID(ctx, job.ID)
	startedAt := time.Now().UTC()

	running := schema.JobStatusRunning
	if err := r.store.UpdateJob(ctx, job.ID, store.JobUpdate{Status: &running, StartedAt: &startedAt}); err != nil {
		return schema.NewError(schema.ErrCodeStore, "mark job running").WithCause(err)
	}
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		EventType:  schema.EventJobStarted,
		JobID:      job.ID,
		ResourceID: job.AgentID,
		UserID:     job.UserID,
	})

	output, tokens, runErr := r.execute(ctx, job)
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt)
	durationMs := duration.Milliseconds()

	if runErr != nil {
		failed := schema.JobStatusFailed
		errMsg := runErr.Error()
		update := store.JobUpdate{
			Status:      &failed,
			Error:       &errMsg,
			CompletedAt: &completedAt,
			DurationMs:  &durationMs,
		}
		if err := r.store.UpdateJob(ctx, job.ID, update); err != nil {
			r.logger.ErrorContext(ctx, "persist failed job", slog.String("error", err.Error()))
		}
		r.metrics.Record(ctx, metrics.Execution{
			ResourceType: "agent",
			ResourceID:   job.AgentID,
			ExecutionID:  job.ExecutionID,
			UserID:       job.UserID,
			Duration:     duration,
			Status:       "failed",
			ErrorType:    errorType(runErr),
		})
		_ = r.hub.Publish(ctx, streaming.StreamEvent{
			EventType:  schema.EventJobFailed,
			JobID:      job.ID,
			ResourceID: job.AgentID,
			UserID:     job.UserID,
			Payload:    errMsg,
		})
		return runErr
	}

	agent, _ := r.store.GetAgent(ctx, job.AgentID)
	cost := 0.0
	if agent != nil {
		cost = estimateCost(agent.Model, tokens)
	}

	completed := schema.JobStatusCompleted
	update := store.JobUpdate{
		Status:      &completed,
		Output:      output,
		TokensUsed:  &tokens,
		Cost:        &cost,
		CompletedAt: &completedAt,
		DurationMs:  &durationMs,
	}
	if err := r.store.UpdateJob(ctx, job.ID, update); err != nil {
		r.logger.ErrorContext(ctx, "persist completed job", slog.String("error", err.Error()))
	}
	r.metrics.Record(ctx, metrics.Execution{
		ResourceType: "agent",
		ResourceID:   job.AgentID,
		ExecutionID:  job.ExecutionID,
		UserID:       job.UserID,
		Duration:     duration,
		APICalls:     1,
		TokensUsed:   tokens,
		Cost:         cost,
		Status:       "completed",
	})
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		EventType:  schema.EventJobCompleted,
		JobID:      job.ID,
		ResourceID: job.AgentID,
		UserID:     job.UserID,
	})
	return nil
}

// execute dispatches by agent type and returns the job's output JSON and
// token usage.
func (r *Runner) execute(ctx context.Context, job *store.Job) (json.RawMessage, int, error) {
	agent, err := r.store.GetAgent(ctx, job.AgentID)
	if err != nil {
		return nil, 0, schema.NewError(schema.ErrCodeStore, "load agent").WithCause(err)
	}
	if agent == nil {
		return nil, 0, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not found", job.AgentID)
	}
	if agent.Status != schema.StatusActive {
		return nil, 0, schema.NewErrorf(schema.ErrCodeNotActive, "agent %q is not active", job.AgentID)
	}

	switch agent.Type {
	case schema.AgentTypeLLM, "":
		return r.runLLM(ctx, agent, job)
	case schema.AgentTypeCustom:
		// Sandboxed code execution is deliberately not implemented.
		out, _ := json.Marshal(map[string]any{
			"message": "custom agent execution is not available",
		})
		return out, 0, nil
	default:
		return nil, 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid agent type %q", agent.Type)
	}
}

func (r *Runner) runLLM(ctx context.Context, agent *store.Agent, job *store.Job) (json.RawMessage, int, error) {
	query := extractQuery(job.Input)

	systemPrompt := agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}

	// Best-effort retrieval augmentation. Failures are logged and the call
	// proceeds without context.
	if agent.CollectionID != "" && r.index != nil && query != "" {
		matches, err := r.index.Search(ctx, agent.CollectionID, agent.UserID, query, agent.TopK, agent.MinScore)
		if err != nil {
			r.logger.WarnContext(ctx, "retrieval failed, continuing without context",
				slog.String("collection_id", agent.CollectionID),
				slog.String("error", err.Error()))
		} else if len(matches) > 0 {
			systemPrompt = spliceContext(systemPrompt, matches)
		}
	}

	result, err := r.provider.Complete(ctx, provider.CompletionRequest{
		Model:       agent.Model,
		Temperature: agent.Temperature,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return nil, 0, err
	}

	out, err := json.Marshal(result.Text)
	if err != nil {
		return nil, 0, schema.NewError(schema.ErrCodeExecution, "encode output").WithCause(err)
	}
	return out, result.TotalTokens, nil
}

// spliceContext inserts retrieved passages before the general-knowledge
// instruction so the model prefers them.
func spliceContext(systemPrompt string, matches []vector.Match) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nRelevant context:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Text)
	}
	b.WriteString("\nUse the context above when it is relevant; otherwise answer from general knowledge.")
	return b.String()
}

// extractQuery pulls the user's message out of the job input. Inputs may
// be a JSON string, an object with a message/query/input/text field, or
// arbitrary JSON rendered verbatim.
func extractQuery(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s
	}

	var obj map[string]any
	if err := json.Unmarshal(input, &obj); err == nil {
		for _, key := range []string{"message", "query", "input", "text"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return string(input)
}

func errorType(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return schema.ErrCodeExecution
}
