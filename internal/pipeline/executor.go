package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowline/internal/agent"
	"github.com/rendis/flowline/internal/connector"
	"github.com/rendis/flowline/internal/expressions"
	"github.com/rendis/flowline/internal/logging"
	"github.com/rendis/flowline/internal/metrics"
	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/internal/validation"
	"github.com/rendis/flowline/internal/vector"
	"github.com/rendis/flowline/pkg/schema"
)

const defaultAgentWait = 60 * time.Second

// JobDispatcher is the slice of the agent runner the executor needs:
// enqueue a job, wait for the completion signal, read it back.
type JobDispatcher interface {
	EnqueueJob(ctx context.Context, req agent.JobRequest) (string, <-chan struct{}, error)
	Job(ctx context.Context, id string) (*store.Job, error)
}

// Executor runs pipelines: an ordered list of typed steps threading a data
// value and a variable bag from step to step.
type Executor struct {
	store      store.Store
	registry   *connector.Registry
	dispatcher JobDispatcher
	index      *vector.Index
	jq         *expressions.GoJQEngine
	validator  *validation.Validator
	hub        streaming.EventHub
	metrics    metrics.Recorder
	logger     *slog.Logger

	// agentWait caps how long an agent step waits for its job. Shortened
	// in tests.
	agentWait time.Duration
}

// NewExecutor creates a pipeline Executor.
func NewExecutor(
	s store.Store,
	registry *connector.Registry,
	dispatcher JobDispatcher,
	index *vector.Index,
	hub streaming.EventHub,
	rec metrics.Recorder,
	logger *slog.Logger,
) (*Executor, error) {
	v, err := validation.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Executor{
		store:      s,
		registry:   registry,
		dispatcher: dispatcher,
		index:      index,
		jq:         expressions.NewGoJQEngine(),
		validator:  v,
		hub:        hub,
		metrics:    rec,
		logger:     logger,
		agentWait:  defaultAgentWait,
	}, nil
}

// SetAgentWait overrides the agent-step completion deadline.
func (e *Executor) SetAgentWait(d time.Duration) { e.agentWait = d }

// runContext is the ephemeral state of one pipeline run. Owned by a single
// run, never shared.
type runContext struct {
	runID     string
	userID    string
	data      any
	variables map[string]any
	logs      []schema.LogEntry
	records   int

	apiCalls   int
	tokensUsed int
}

func (rc *runContext) log(step string, format string, args ...any) {
	rc.logs = append(rc.logs, schema.LogEntry{
		NodeID:    step,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
}

func (rc *runContext) logError(step string, err error) {
	rc.logs = append(rc.logs, schema.LogEntry{
		NodeID:    step,
		Timestamp: time.Now().UTC(),
		Message:   "step failed",
		Error:     err.Error(),
	})
}

// Run executes the pipeline with the given input. Guard failures (missing,
// inactive, empty) return an error before any step runs; a step failure
// returns a result carrying the partial log and partial recordsProcessed.
func (e *Executor) Run(ctx context.Context, pipelineID string, input any, userID string) (*schema.RunResult, error) {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "load pipeline").WithCause(err)
	}
	if p == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "pipeline %q not found", pipelineID)
	}
	if p.Status != schema.StatusActive {
		return nil, schema.NewErrorf(schema.ErrCodeNotActive, "pipeline %q is not active", pipelineID)
	}
	if len(p.Definition.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "pipeline %q has no steps", pipelineID)
	}

	if err := e.validator.ValidatePipeline(&p.Definition); err != nil {
		return nil, err
	}
	steps, err := compileSteps(&p.Definition)
	if err != nil {
		return nil, err
	}

	rc := &runContext{
		runID:     uuid.NewString(),
		userID:    userID,
		data:      input,
		variables: map[string]any{},
	}
	ctx = logging.WithRunID(ctx, rc.runID)
	startedAt := time.Now().UTC()

	_ = e.hub.Publish(ctx, streaming.StreamEvent{
		EventType:  schema.EventRunStarted,
		ResourceID: pipelineID,
		RunID:      rc.runID,
		UserID:     userID,
	})
	e.logger.InfoContext(ctx, "pipeline run started",
		slog.String("pipeline_id", pipelineID),
		slog.Int("steps", len(steps)))

	for _, step := range steps {
		stepCtx := logging.WithNodeID(ctx, step.name())
		output, stepErr := e.runStep(stepCtx, step, rc)
		if stepErr != nil {
			rc.logError(step.name(), stepErr)
			e.finish(ctx, pipelineID, rc, startedAt, stepErr)
			return &schema.RunResult{
				Success:          false,
				Error:            stepErr.Error(),
				Logs:             rc.logs,
				RecordsProcessed: rc.records,
			}, nil
		}

		if step.kind != schema.StepTypeConnector {
			rc.records += recordCount(output)
		}
		rc.data = output
		if step.outputVariable != "" {
			rc.variables[step.outputVariable] = output
		}
	}

	e.finish(ctx, pipelineID, rc, startedAt, nil)
	return &schema.RunResult{
		Success:          true,
		Output:           rc.data,
		Logs:             rc.logs,
		RecordsProcessed: rc.records,
	}, nil
}

func (e *Executor) finish(ctx context.Context, pipelineID string, rc *runContext, startedAt time.Time, runErr error) {
	duration := time.Since(startedAt)
	exec := metrics.Execution{
		ResourceType: "pipeline",
		ResourceID:   pipelineID,
		ExecutionID:  rc.runID,
		UserID:       rc.userID,
		Duration:     duration,
		APICalls:     rc.apiCalls,
		TokensUsed:   rc.tokensUsed,
		Status:       "completed",
	}
	event := streaming.StreamEvent{
		EventType:  schema.EventRunCompleted,
		ResourceID: pipelineID,
		RunID:      rc.runID,
		UserID:     rc.userID,
	}
	if runErr != nil {
		exec.Status = "failed"
		exec.ErrorType = errorType(runErr)
		event.EventType = schema.EventRunFailed
		event.Payload = runErr.Error()
		e.logger.ErrorContext(ctx, "pipeline run failed",
			slog.String("pipeline_id", pipelineID),
			slog.String("error", runErr.Error()))
	} else {
		e.logger.InfoContext(ctx, "pipeline run completed",
			slog.String("pipeline_id", pipelineID),
			slog.Duration("duration", duration),
			slog.Int("records", rc.records))
	}
	e.metrics.Record(ctx, exec)
	_ = e.hub.Publish(ctx, event)
}

func (e *Executor) runStep(ctx context.Context, step *compiledStep, rc *runContext) (any, error) {
	switch step.kind {
	case schema.StepTypeConnector:
		return e.runConnector(ctx, step, rc)
	case schema.StepTypeTransform:
		return e.runTransform(ctx, step, rc)
	case schema.StepTypeFilter:
		return runFilter(step, rc)
	case schema.StepTypeAggregate:
		return runAggregate(step, rc)
	case schema.StepTypeAgent:
		return e.runAgent(ctx, step, rc)
	case schema.StepTypeVector:
		return e.runVector(ctx, step, rc)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown step type %q", step.kind)
	}
}

func (e *Executor) runConnector(ctx context.Context, step *compiledStep, rc *runContext) (any, error) {
	conn, err := e.registry.Open(step.connector)
	if err != nil {
		return nil, err
	}
	data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	rc.log(step.name(), "read %d records from %s source", recordCount(data), step.connector.Source)
	return data, nil
}

func (e *Executor) runTransform(ctx context.Context, step *compiledStep, rc *runContext) (any, error) {
	ts := step.transform

	if ts.expression != "" {
		out, err := e.jq.Evaluate(ctx, ts.expression, map[string]any{
			"data":      rc.data,
			"variables": rc.variables,
		})
		if err != nil {
			return nil, err
		}
		rc.log(step.name(), "transformed via expression")
		return out, nil
	}

	switch data := rc.data.(type) {
	case []any:
		out := make([]any, 0, len(data))
		for _, item := range data {
			record, _ := item.(map[string]any)
			out = append(out, ts.template.Resolve(record, rc.variables))
		}
		rc.log(step.name(), "transformed %d records", len(out))
		return out, nil
	case map[string]any:
		rc.log(step.name(), "transformed 1 record")
		return ts.template.Resolve(data, rc.variables), nil
	default:
		rc.log(step.name(), "transformed 1 record")
		return ts.template.Resolve(nil, rc.variables), nil
	}
}

func runFilter(step *compiledStep, rc *runContext) (any, error) {
	records, ok := rc.data.([]any)
	if !ok {
		// Non-array input passes through unchanged.
		rc.log(step.name(), "input is not an array, passed through")
		return rc.data, nil
	}

	cfg := step.filter
	out := make([]any, 0, len(records))
	for _, item := range records {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		match, err := expressions.Compare(cfg.Operator, record[cfg.Field], cfg.Value)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, item)
		}
	}
	rc.log(step.name(), "filtered %d records to %d", len(records), len(out))
	return out, nil
}

func (e *Executor) runAgent(ctx context.Context, step *compiledStep, rc *runContext) (any, error) {
	input, err := json.Marshal(rc.data)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "encode agent input").WithCause(err)
	}

	jobID, done, err := e.dispatcher.EnqueueJob(ctx, agent.JobRequest{
		ExecutionID: rc.runID,
		AgentID:     step.agent.AgentID,
		UserID:      rc.userID,
		Input:       input,
	})
	if err != nil {
		return nil, err
	}
	rc.log(step.name(), "enqueued agent job %s", jobID)

	output, job, err := awaitJob(ctx, e.dispatcher, jobID, done, e.agentWait)
	if err != nil {
		return nil, err
	}
	rc.apiCalls++
	rc.tokensUsed += job.TokensUsed
	rc.log(step.name(), "agent job %s completed", jobID)
	return output, nil
}

// awaitJob blocks until the job's completion signal, the deadline or
// context cancellation, then reads back the terminal job record.
func awaitJob(ctx context.Context, d JobDispatcher, jobID string, done <-chan struct{}, wait time.Duration) (any, *store.Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return nil, nil, schema.NewErrorf(schema.ErrCodeTimeout,
			"timed out after %s waiting for agent job %s", wait, jobID)
	case <-ctx.Done():
		return nil, nil, schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(ctx.Err())
	}

	job, err := d.Job(ctx, jobID)
	if err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeStore, "load agent job").WithCause(err)
	}
	if job == nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent job %q not found", jobID)
	}

	switch job.Status {
	case schema.JobStatusCompleted:
		var output any
		if len(job.Output) > 0 {
			if err := json.Unmarshal(job.Output, &output); err != nil {
				return nil, nil, schema.NewError(schema.ErrCodeExecution, "decode agent output").WithCause(err)
			}
		}
		return output, job, nil
	case schema.JobStatusFailed:
		return nil, nil, schema.NewErrorf(schema.ErrCodeExecution, "agent job failed: %s", job.Error)
	default:
		return nil, nil, schema.NewErrorf(schema.ErrCodeExecution,
			"agent job %s signalled done in non-terminal state %s", jobID, job.Status)
	}
}

func (e *Executor) runVector(ctx context.Context, step *compiledStep, rc *runContext) (any, error) {
	cfg := step.vector

	switch cfg.Operation {
	case "add":
		texts, metadata := extractTexts(rc.data, cfg.TextField)
		if len(texts) == 0 {
			return nil, schema.NewError(schema.ErrCodeValidation, "no text found in input records")
		}
		added, err := e.index.Add(ctx, cfg.CollectionID, rc.userID, texts, metadata)
		if err != nil {
			return nil, err
		}
		rc.log(step.name(), "added %d vectors to collection %s", added, cfg.CollectionID)
		return map[string]any{"added": added}, nil

	case "search":
		matches, err := e.index.Search(ctx, cfg.CollectionID, rc.userID, cfg.Query, cfg.TopK, cfg.MinScore)
		if err != nil {
			return nil, err
		}
		rc.log(step.name(), "found %d matches in collection %s", len(matches), cfg.CollectionID)
		out := make([]any, len(matches))
		for i, m := range matches {
			out[i] = map[string]any{
				"id":       m.ID,
				"text":     m.Text,
				"score":    m.Score,
				"metadata": m.Metadata,
			}
		}
		return out, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown vector operation %q", cfg.Operation)
	}
}

// extractTexts pulls embeddable text out of the data: the configured text
// field (default "text", fallback "content") for record arrays, or the
// value itself for plain strings. Each record rides along as metadata.
func extractTexts(data any, textField string) ([]string, []map[string]any) {
	if textField == "" {
		textField = "text"
	}

	switch v := data.(type) {
	case string:
		return []string{v}, []map[string]any{nil}
	case []any:
		var texts []string
		var metadata []map[string]any
		for _, item := range v {
			switch rec := item.(type) {
			case string:
				texts = append(texts, rec)
				metadata = append(metadata, nil)
			case map[string]any:
				text, _ := rec[textField].(string)
				if text == "" {
					text, _ = rec["content"].(string)
				}
				if text == "" {
					continue
				}
				texts = append(texts, text)
				metadata = append(metadata, rec)
			}
		}
		return texts, metadata
	case map[string]any:
		text, _ := v[textField].(string)
		if text == "" {
			text, _ = v["content"].(string)
		}
		if text == "" {
			return nil, nil
		}
		return []string{text}, []map[string]any{v}
	default:
		return nil, nil
	}
}

func errorType(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return schema.ErrCodeExecution
}
