package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/flowline/internal/agent"
	"github.com/rendis/flowline/internal/expressions"
	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/pkg/schema"
)

func (e *Executor) runNode(ctx context.Context, node *compiledNode, input any, rc *runContext) (any, error) {
	switch node.kind {
	case schema.NodeTypeStart:
		// Passes the workflow's original input through unchanged.
		rc.log(node.name(), "workflow started")
		return rc.input, nil

	case schema.NodeTypeEnd:
		rc.log(node.name(), "workflow ended")
		return rc.variablesSnapshot(), nil

	case schema.NodeTypeAgent:
		return e.runAgentNode(ctx, node, input, rc)

	case schema.NodeTypeCondition:
		return e.runConditionNode(ctx, node, rc)

	case schema.NodeTypeDelay:
		return runDelayNode(ctx, node, rc)

	case schema.NodeTypeTransform:
		return e.runTransformNode(ctx, node, rc)

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", node.kind).WithNode(node.id)
	}
}

func (e *Executor) runAgentNode(ctx context.Context, node *compiledNode, input any, rc *runContext) (any, error) {
	raw, err := marshalInput(input)
	if err != nil {
		return nil, err
	}

	jobID, done, err := e.dispatcher.EnqueueJob(ctx, agent.JobRequest{
		ExecutionID: rc.runID,
		AgentID:     node.agent.AgentID,
		UserID:      rc.userID,
		Input:       raw,
	})
	if err != nil {
		return nil, err
	}
	rc.log(node.name(), "enqueued agent job %s", jobID)

	output, job, err := awaitJob(ctx, e.dispatcher, jobID, done, e.agentWait)
	if err != nil {
		return nil, err
	}
	rc.countAgent(job.TokensUsed)
	rc.log(node.name(), "agent job %s completed", jobID)
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

// runConditionNode computes the branch boolean. Either a single
// {variable, operator, value} predicate against the variable bag, or a
// free-form expression handed to the configured engine.
func (e *Executor) runConditionNode(ctx context.Context, node *compiledNode, rc *runContext) (any, error) {
	cfg := node.condition
	vars := rc.variablesSnapshot()

	if cfg.Expression != "" {
		var (
			result any
			err    error
		)
		switch cfg.Engine {
		case "cel":
			result, err = e.cel.Evaluate(ctx, cfg.Expression, vars)
		case "expr", "":
			result, err = e.expr.Evaluate(ctx, cfg.Expression, vars)
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition engine %q", cfg.Engine).WithNode(node.id)
		}
		if err != nil {
			return nil, err
		}
		cond, ok := result.(bool)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"condition expression returned %T, expected boolean", result).WithNode(node.id)
		}
		rc.log(node.name(), "condition evaluated to %t", cond)
		return map[string]any{"condition": cond, "value": result}, nil
	}

	actual := vars[cfg.Variable]
	cond, err := expressions.Compare(cfg.Operator, actual, cfg.Value)
	if err != nil {
		return nil, err
	}
	rc.log(node.name(), "condition evaluated to %t", cond)
	return map[string]any{"condition": cond, "value": actual}, nil
}

func runDelayNode(ctx context.Context, node *compiledNode, rc *runContext) (any, error) {
	// Suspends only this branch; sibling branches keep running.
	timer := time.NewTimer(time.Duration(node.delayMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(ctx.Err())
	}
	rc.log(node.name(), "delayed %d ms", node.delayMs)
	return map[string]any{"delayed": node.delayMs}, nil
}

// runTransformNode maps the variable bag through the node's template.
// There is no per-record fallback here: workflow data is a flat bag, not
// an array of records.
func (e *Executor) runTransformNode(ctx context.Context, node *compiledNode, rc *runContext) (any, error) {
	tn := node.transform
	vars := rc.variablesSnapshot()

	if tn.expression != "" {
		out, err := e.jq.Evaluate(ctx, tn.expression, vars)
		if err != nil {
			return nil, err
		}
		rc.log(node.name(), "transformed via expression")
		return out, nil
	}

	out := tn.template.Resolve(nil, vars)
	rc.log(node.name(), "transformed variables")
	return out, nil
}
