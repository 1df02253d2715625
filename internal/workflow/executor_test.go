package workflow

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowline/internal/agent"
	"github.com/rendis/flowline/internal/metrics"
	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/pkg/schema"
)

// fakeDispatcher resolves agent jobs without a queue: each enqueued job is
// completed (or failed, or left pending) according to the configured plan.
type fakeDispatcher struct {
	mu      sync.Mutex
	seq     int
	jobs    map[string]*store.Job
	output  json.RawMessage
	tokens  int
	failMsg string
	pending bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{jobs: map[string]*store.Job{}, output: json.RawMessage(`"agent says hi"`), tokens: 10}
}

func (d *fakeDispatcher) EnqueueJob(_ context.Context, req agent.JobRequest) (string, <-chan struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := string(rune('a'+d.seq-1)) + "-job"
	job := &store.Job{ID: id, AgentID: req.AgentID, UserID: req.UserID, Input: req.Input}

	done := make(chan struct{})
	if d.pending {
		job.Status = schema.JobStatusPending
	} else if d.failMsg != "" {
		job.Status = schema.JobStatusFailed
		job.Error = d.failMsg
		close(done)
	} else {
		job.Status = schema.JobStatusCompleted
		job.Output = d.output
		job.TokensUsed = d.tokens
		close(done)
	}
	d.jobs[id] = job
	return id, done, nil
}

func (d *fakeDispatcher) Job(_ context.Context, id string) (*store.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[id], nil
}

type executorFixture struct {
	executor   *Executor
	store      *store.MemoryStore
	dispatcher *fakeDispatcher
	recorder   *metrics.MemoryRecorder
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	s := store.NewMemoryStore()
	d := newFakeDispatcher()
	rec := metrics.NewMemoryRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := NewExecutor(s, d, streaming.NewMemoryHub(), rec, logger)
	require.NoError(t, err)
	return &executorFixture{executor: e, store: s, dispatcher: d, recorder: rec}
}

func createWorkflow(t *testing.T, s *store.MemoryStore, id string, status schema.ResourceStatus, def schema.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, s.CreateWorkflow(context.Background(), &store.Workflow{
		ID:         id,
		UserID:     "u1",
		Name:       id,
		Status:     status,
		Definition: def,
	}))
}

func node(id string, kind schema.NodeType, config string, outputVariable ...string) schema.Node {
	n := schema.Node{ID: id, Type: kind}
	if config != "" {
		n.Config = json.RawMessage(config)
	}
	if len(outputVariable) > 0 {
		n.OutputVariable = outputVariable[0]
	}
	return n
}

func edge(source, target string, handle ...string) schema.Edge {
	e := schema.Edge{ID: source + "-" + target, Source: source, Target: target}
	if len(handle) > 0 {
		e.SourceHandle = handle[0]
	}
	return e
}

func TestRunLinearWorkflow(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, "", "payload"),
			node("t1", schema.NodeTypeTransform, `{"template":{"greeting":"hello","echo":"$payload"}}`, "result"),
			node("end", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{edge("start", "t1"), edge("t1", "end")},
	})

	result, err := f.executor.Run(context.Background(), "w1", map[string]any{"name": "ada"}, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)

	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "ada"}, out["payload"])
	assert.Equal(t, map[string]any{"greeting": "hello", "echo": map[string]any{"name": "ada"}}, out["result"])
}

func TestRunAgentNodeThreadsJobOutput(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("a1", schema.NodeTypeAgent, `{"agent_id":"agent-1"}`, "answer"),
			node("end", schema.NodeTypeEnd, ""),
		},
		Edges: []schema.Edge{edge("start", "a1"), edge("a1", "end")},
	})

	result, err := f.executor.Run(context.Background(), "w1", "summarize this", "u1")
	require.NoError(t, err)
	require.True(t, result.Success)

	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent says hi", out["answer"])

	job, err := f.dispatcher.Job(context.Background(), "a-job")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.JSONEq(t, `"summarize this"`, string(job.Input))
	assert.Equal(t, "agent-1", job.AgentID)

	execs := f.recorder.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, "completed", execs[0].Status)
	assert.Equal(t, 10, execs[0].TokensUsed)
}

func TestRunConditionPredicateBranching(t *testing.T) {
	def := schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, "", "score"),
			node("check", schema.NodeTypeCondition, `{"variable":"score","operator":"greaterThan","value":5}`),
			node("high", schema.NodeTypeTransform, `{"template":{"path":"high"}}`, "route"),
			node("low", schema.NodeTypeTransform, `{"template":{"path":"low"}}`, "route"),
		},
		Edges: []schema.Edge{
			edge("start", "check"),
			edge("check", "high", "true"),
			edge("check", "low", "false"),
		},
	}

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"true branch", 10.0, "high"},
		{"false branch", 3.0, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecutorFixture(t)
			createWorkflow(t, f.store, "w1", schema.StatusActive, def)

			result, err := f.executor.Run(context.Background(), "w1", tt.input, "u1")
			require.NoError(t, err)
			require.True(t, result.Success)
			assert.Equal(t, map[string]any{"path": tt.want}, result.Output)
		})
	}
}

func TestRunConditionExpression(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, "", "score"),
			node("check", schema.NodeTypeCondition, `{"expression":"score > 5"}`),
			node("high", schema.NodeTypeTransform, `{"template":{"path":"high"}}`),
		},
		Edges: []schema.Edge{
			edge("start", "check"),
			edge("check", "high", "true"),
		},
	})

	result, err := f.executor.Run(context.Background(), "w1", 9.0, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"path": "high"}, result.Output)
}

func TestRunConditionFalseWithNoMatchingEdgeStops(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, "", "score"),
			node("check", schema.NodeTypeCondition, `{"variable":"score","operator":"greaterThan","value":5}`),
			node("high", schema.NodeTypeTransform, `{"template":{"path":"high"}}`),
		},
		Edges: []schema.Edge{
			edge("start", "check"),
			edge("check", "high", "true"),
		},
	})

	result, err := f.executor.Run(context.Background(), "w1", 1.0, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)

	// Traversal ends at the condition node; its own output is the result.
	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, out["condition"])
}

func TestRunFanOutKeepsEdgeOrder(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("t1", schema.NodeTypeTransform, `{"template":{"branch":"one"}}`),
			node("t2", schema.NodeTypeTransform, `{"template":{"branch":"two"}}`),
			node("t3", schema.NodeTypeTransform, `{"template":{"branch":"three"}}`),
		},
		Edges: []schema.Edge{
			edge("start", "t1"),
			edge("start", "t2"),
			edge("start", "t3"),
		},
	})

	result, err := f.executor.Run(context.Background(), "w1", nil, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)

	out, ok := result.Output.([]any)
	require.True(t, ok)
	require.Len(t, out, 3)
	assert.Equal(t, map[string]any{"branch": "one"}, out[0])
	assert.Equal(t, map[string]any{"branch": "two"}, out[1])
	assert.Equal(t, map[string]any{"branch": "three"}, out[2])
}

func TestRunCycleDetected(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("a", schema.NodeTypeDelay, `{"duration_ms":1}`),
			node("b", schema.NodeTypeDelay, `{"duration_ms":1}`),
		},
		Edges: []schema.Edge{edge("a", "b"), edge("b", "a")},
	})

	result, err := f.executor.Run(context.Background(), "w1", nil, "u1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "circular dependency")

	execs := f.recorder.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, "failed", execs[0].Status)
	assert.Equal(t, schema.ErrCodeCycle, execs[0].ErrorType)
}

func TestRunDelayNode(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("start", schema.NodeTypeStart, ""),
			node("d1", schema.NodeTypeDelay, `{"duration_ms":10}`),
		},
		Edges: []schema.Edge{edge("start", "d1")},
	})

	begin := time.Now()
	result, err := f.executor.Run(context.Background(), "w1", nil, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"delayed": 10}, result.Output)
	assert.GreaterOrEqual(t, time.Since(begin), 10*time.Millisecond)
}

func TestRunAgentNodeTimeout(t *testing.T) {
	f := newExecutorFixture(t)
	f.dispatcher.pending = true
	f.executor.SetAgentWait(50 * time.Millisecond)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("a1", schema.NodeTypeAgent, `{"agent_id":"agent-1"}`),
		},
	})

	begin := time.Now()
	result, err := f.executor.Run(context.Background(), "w1", nil, "u1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.Less(t, time.Since(begin), 2*time.Second)
}

func TestRunAgentNodeFailureSurfacesJobError(t *testing.T) {
	f := newExecutorFixture(t)
	f.dispatcher.failMsg = "model unavailable"
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("a1", schema.NodeTypeAgent, `{"agent_id":"agent-1"}`),
		},
	})

	result, err := f.executor.Run(context.Background(), "w1", nil, "u1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "model unavailable")
}

func TestRunGuardsRejectBeforeExecution(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	_, err := f.executor.Run(ctx, "ghost", nil, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	createWorkflow(t, f.store, "draft", schema.StatusDraft, schema.WorkflowDefinition{
		Nodes: []schema.Node{node("start", schema.NodeTypeStart, "")},
	})
	_, err = f.executor.Run(ctx, "draft", nil, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")

	createWorkflow(t, f.store, "empty", schema.StatusActive, schema.WorkflowDefinition{})
	_, err = f.executor.Run(ctx, "empty", nil, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no nodes")
}

func TestStartNodeFallsBackToFirstNode(t *testing.T) {
	f := newExecutorFixture(t)
	createWorkflow(t, f.store, "w1", schema.StatusActive, schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("t1", schema.NodeTypeTransform, `{"template":{"ok":true}}`),
		},
	})

	result, err := f.executor.Run(context.Background(), "w1", nil, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"ok": true}, result.Output)
}

func TestCompileGraphRejectsBadDefinitions(t *testing.T) {
	_, err := compileGraph(&schema.WorkflowDefinition{
		Nodes: []schema.Node{
			node("a", schema.NodeTypeStart, ""),
			node("a", schema.NodeTypeEnd, ""),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")

	_, err = compileGraph(&schema.WorkflowDefinition{
		Nodes: []schema.Node{node("a", schema.NodeTypeStart, "")},
		Edges: []schema.Edge{edge("a", "ghost")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target node")

	_, err = compileGraph(&schema.WorkflowDefinition{
		Nodes: []schema.Node{node("a", schema.NodeTypeAgent, `{}`)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_id is required")
}
