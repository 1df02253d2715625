package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowline/internal/agent"
	"github.com/rendis/flowline/internal/expressions"
	"github.com/rendis/flowline/internal/logging"
	"github.com/rendis/flowline/internal/metrics"
	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/internal/validation"
	"github.com/rendis/flowline/pkg/schema"
)

const defaultAgentWait = 60 * time.Second

// JobDispatcher is the slice of the agent runner the executor needs.
type JobDispatcher interface {
	EnqueueJob(ctx context.Context, req agent.JobRequest) (string, <-chan struct{}, error)
	Job(ctx context.Context, id string) (*store.Job, error)
}

// Executor runs workflows: directed graphs of typed nodes with branching,
// parallel fan-out and cycle detection.
type Executor struct {
	store      store.Store
	dispatcher JobDispatcher
	expr       *expressions.ExprEngine
	cel        *expressions.CELEngine
	jq         *expressions.GoJQEngine
	validator  *validation.Validator
	hub        streaming.EventHub
	metrics    metrics.Recorder
	logger     *slog.Logger

	agentWait time.Duration
}

// NewExecutor creates a workflow Executor.
func NewExecutor(
	s store.Store,
	dispatcher JobDispatcher,
	hub streaming.EventHub,
	rec metrics.Recorder,
	logger *slog.Logger,
) (*Executor, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	v, err := validation.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Executor{
		store:      s,
		dispatcher: dispatcher,
		expr:       expressions.NewExprEngine(),
		cel:        cel,
		jq:         expressions.NewGoJQEngine(),
		validator:  v,
		hub:        hub,
		metrics:    rec,
		logger:     logger,
		agentWait:  defaultAgentWait,
	}, nil
}

// SetAgentWait overrides the agent-node completion deadline.
func (e *Executor) SetAgentWait(d time.Duration) { e.agentWait = d }

// runContext is the shared state of one workflow run. The variable bag and
// log are shared across fan-out branches and mutex-guarded; the visited
// set is NOT here, it travels per branch.
type runContext struct {
	runID  string
	userID string
	input  any

	mu        sync.Mutex
	variables map[string]any
	logs      []schema.LogEntry

	agentExecutions int
	apiCalls        int
	tokensUsed      int
}

func (rc *runContext) setVariable(name string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.variables[name] = value
}

// variablesSnapshot copies the bag so expression engines never race with
// concurrent branch writes.
func (rc *runContext) variablesSnapshot() map[string]any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]any, len(rc.variables))
	for k, v := range rc.variables {
		out[k] = v
	}
	return out
}

func (rc *runContext) log(nodeID, format string, args ...any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.logs = append(rc.logs, schema.LogEntry{
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
}

func (rc *runContext) logErr(nodeID string, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.logs = append(rc.logs, schema.LogEntry{
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
		Message:   "node failed",
		Error:     err.Error(),
	})
}

func (rc *runContext) countAgent(tokens int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.agentExecutions++
	rc.apiCalls++
	rc.tokensUsed += tokens
}

// Run executes the workflow with the given input. Guard failures return an
// error before any node runs; a node failure returns a result carrying the
// partial log.
func (e *Executor) Run(ctx context.Context, workflowID string, input any, userID string) (*schema.RunResult, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "load workflow").WithCause(err)
	}
	if wf == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", workflowID)
	}
	if wf.Status != schema.StatusActive {
		return nil, schema.NewErrorf(schema.ErrCodeNotActive, "workflow %q is not active", workflowID)
	}

	if len(wf.Definition.Nodes) > 0 {
		if err := e.validator.ValidateWorkflow(&wf.Definition); err != nil {
			return nil, err
		}
	}
	graph, err := compileGraph(&wf.Definition)
	if err != nil {
		return nil, err
	}

	rc := &runContext{
		runID:     uuid.NewString(),
		userID:    userID,
		input:     input,
		variables: map[string]any{},
	}
	ctx = logging.WithRunID(ctx, rc.runID)
	startedAt := time.Now().UTC()

	_ = e.hub.Publish(ctx, streaming.StreamEvent{
		EventType:  schema.EventRunStarted,
		ResourceID: workflowID,
		RunID:      rc.runID,
		UserID:     userID,
	})
	e.logger.InfoContext(ctx, "workflow run started",
		slog.String("workflow_id", workflowID),
		slog.Int("nodes", len(graph.order)))

	start := graph.startNode()
	output, runErr := e.execNode(ctx, graph, start, input, rc, map[string]struct{}{})

	e.finish(ctx, workflowID, rc, startedAt, runErr)
	if runErr != nil {
		return &schema.RunResult{
			Success: false,
			Error:   runErr.Error(),
			Logs:    rc.logs,
		}, nil
	}
	return &schema.RunResult{
		Success: true,
		Output:  output,
		Logs:    rc.logs,
	}, nil
}

func (e *Executor) finish(ctx context.Context, workflowID string, rc *runContext, startedAt time.Time, runErr error) {
	duration := time.Since(startedAt)
	exec := metrics.Execution{
		ResourceType: "workflow",
		ResourceID:   workflowID,
		ExecutionID:  rc.runID,
		UserID:       rc.userID,
		Duration:     duration,
		APICalls:     rc.apiCalls,
		TokensUsed:   rc.tokensUsed,
		Status:       "completed",
	}
	event := streaming.StreamEvent{
		EventType:  schema.EventRunCompleted,
		ResourceID: workflowID,
		RunID:      rc.runID,
		UserID:     rc.userID,
	}
	if runErr != nil {
		exec.Status = "failed"
		exec.ErrorType = errorType(runErr)
		event.EventType = schema.EventRunFailed
		event.Payload = runErr.Error()
		e.logger.ErrorContext(ctx, "workflow run failed",
			slog.String("workflow_id", workflowID),
			slog.String("error", runErr.Error()))
	} else {
		e.logger.InfoContext(ctx, "workflow run completed",
			slog.String("workflow_id", workflowID),
			slog.Duration("duration", duration),
			slog.Int("agent_executions", rc.agentExecutions))
	}
	e.metrics.Record(ctx, exec)
	_ = e.hub.Publish(ctx, event)
}

// execNode runs one node and recurses along its outgoing edges. The
// visited set tracks the current traversal path; fan-out branches each get
// their own clone so siblings do not falsely collide while true cycles
// within a single path are still caught.
func (e *Executor) execNode(ctx context.Context, g *compiledGraph, node *compiledNode, input any, rc *runContext, visited map[string]struct{}) (any, error) {
	if _, seen := visited[node.id]; seen {
		err := schema.NewErrorf(schema.ErrCodeCycle, "circular dependency detected at node %q", node.id).WithNode(node.id)
		rc.logErr(node.name(), err)
		return nil, err
	}
	visited[node.id] = struct{}{}

	nodeCtx := logging.WithNodeID(ctx, node.id)
	output, err := e.runNode(nodeCtx, node, input, rc)
	if err != nil {
		rc.logErr(node.name(), err)
		return nil, err
	}
	if node.outputVariable != "" {
		rc.setVariable(node.outputVariable, output)
	}

	edges := g.outgoing[node.id]
	if node.kind == schema.NodeTypeCondition {
		edges = selectConditionEdges(edges, output)
	}

	switch len(edges) {
	case 0:
		return output, nil
	case 1:
		target := g.nodes[edges[0].Target]
		return e.execNode(ctx, g, target, output, rc, visited)
	default:
		return e.fanOut(ctx, g, edges, output, rc, visited)
	}
}

// fanOut runs every target branch concurrently and joins before
// returning. Branch outputs keep edge order; the first branch error (in
// edge order) wins.
func (e *Executor) fanOut(ctx context.Context, g *compiledGraph, edges []schema.Edge, input any, rc *runContext, visited map[string]struct{}) (any, error) {
	results := make([]any, len(edges))
	errs := make([]error, len(edges))

	var wg sync.WaitGroup
	for i, edge := range edges {
		wg.Add(1)
		go func(i int, edge schema.Edge) {
			defer wg.Done()
			branchVisited := make(map[string]struct{}, len(visited))
			for id := range visited {
				branchVisited[id] = struct{}{}
			}
			target := g.nodes[edge.Target]
			results[i], errs[i] = e.execNode(ctx, g, target, input, rc, branchVisited)
		}(i, edge)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// selectConditionEdges keeps the edges matching the condition's boolean:
// edges labelled with a true/false source handle are followed only on a
// match, unlabelled edges always follow.
func selectConditionEdges(edges []schema.Edge, output any) []schema.Edge {
	cond := false
	if m, ok := output.(map[string]any); ok {
		cond, _ = m["condition"].(bool)
	}

	var out []schema.Edge
	for _, edge := range edges {
		switch edge.SourceHandle {
		case "":
			out = append(out, edge)
		case "true":
			if cond {
				out = append(out, edge)
			}
		case "false":
			if !cond {
				out = append(out, edge)
			}
		}
	}
	return out
}

func errorType(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return schema.ErrCodeExecution
}

// marshalInput encodes a node's incoming value as the JSON input of an
// agent job.
func marshalInput(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "encode agent input").WithCause(err)
	}
	return raw, nil
}
