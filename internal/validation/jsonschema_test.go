package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowline/pkg/schema"
)

func TestValidateWorkflow(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "a1", Type: schema.NodeTypeAgent, Config: json.RawMessage(`{"agent_id":"agent-1"}`)},
			{ID: "end", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "a1"},
			{ID: "e2", Source: "a1", Target: "end"},
		},
	}
	assert.NoError(t, v.ValidateWorkflow(def))
}

func TestValidateWorkflowRejectsUnknownNodeType(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Nodes: []schema.Node{{ID: "x", Type: "teleport"}},
	}
	err = v.ValidateWorkflow(def)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestValidateWorkflowDuplicateNodeID(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Nodes: []schema.Node{
			{ID: "n1", Type: schema.NodeTypeStart},
			{ID: "n1", Type: schema.NodeTypeEnd},
		},
	}
	err = v.ValidateWorkflow(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestValidateWorkflowEdgeToUnknownNode(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Nodes: []schema.Node{{ID: "n1", Type: schema.NodeTypeStart}},
		Edges: []schema.Edge{{ID: "e1", Source: "n1", Target: "ghost"}},
	}
	err = v.ValidateWorkflow(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target node")
}

func TestValidatePipeline(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := &schema.PipelineDefinition{
		Steps: []schema.StepDefinition{
			{Type: schema.StepTypeConnector, Config: json.RawMessage(`{"source":"static","data":[1,2,3]}`)},
			{Type: schema.StepTypeAggregate, Config: json.RawMessage(`{"operation":"sum"}`)},
		},
	}
	assert.NoError(t, v.ValidatePipeline(def))
}

func TestValidatePipelineEmptySteps(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	err = v.ValidatePipeline(&schema.PipelineDefinition{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestValidatePipelineUnknownStepType(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := &schema.PipelineDefinition{
		Steps: []schema.StepDefinition{{Type: "shuffle"}},
	}
	require.Error(t, v.ValidatePipeline(def))
}
