package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable workflow graph format:
// typed nodes connected by directed edges.
type WorkflowDefinition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single typed unit of work in a workflow graph.
type Node struct {
	ID             string          `json:"id"`
	Type           NodeType        `json:"type"`
	Label          string          `json:"label,omitempty"`
	OutputVariable string          `json:"output_variable,omitempty"` // variable name the node's output is stored under
	Config         json.RawMessage `json:"config,omitempty"`          // type-specific config, decoded once at compile time
}

// Edge is a directed connection between two nodes. SourceHandle carries the
// branch label ("true"/"false") for edges leaving a condition node.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeCondition NodeType = "condition"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeTransform NodeType = "transform"
)

// AgentNodeConfig is the config block for agent-type nodes.
type AgentNodeConfig struct {
	AgentID string `json:"agent_id"`
}

// ConditionNodeConfig is the config block for condition-type nodes.
// Either a {variable, operator, value} predicate or a free-form expression
// evaluated against the variable bag by the selected engine.
type ConditionNodeConfig struct {
	Variable   string `json:"variable,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Value      any    `json:"value,omitempty"`
	Expression string `json:"expression,omitempty"`
	Engine     string `json:"engine,omitempty"` // expr | cel (default: expr)
}

// DelayNodeConfig is the config block for delay-type nodes.
type DelayNodeConfig struct {
	DurationMs int `json:"duration_ms,omitempty"` // default 1000
}

// TransformNodeConfig is the config block for transform-type nodes.
// Template maps output fields to literals, $var references, or ${var}
// interpolated strings. Expression is an optional jq alternative.
type TransformNodeConfig struct {
	Template   map[string]any `json:"template,omitempty"`
	Expression string         `json:"expression,omitempty"`
}
