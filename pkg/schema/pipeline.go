package schema

import "encoding/json"

// PipelineDefinition is the JSON-serializable pipeline format: an ordered
// list of typed steps executed strictly sequentially, no branching.
type PipelineDefinition struct {
	Steps []StepDefinition `json:"steps"`
}

// StepDefinition describes a single step in a pipeline.
type StepDefinition struct {
	Type           StepType        `json:"type"`
	Label          string          `json:"label,omitempty"`
	OutputVariable string          `json:"output_variable,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// StepType enumerates the kinds of steps in a pipeline.
type StepType string

const (
	StepTypeConnector StepType = "connector"
	StepTypeTransform StepType = "transform"
	StepTypeFilter    StepType = "filter"
	StepTypeAggregate StepType = "aggregate"
	StepTypeAgent     StepType = "agent"
	StepTypeVector    StepType = "vector"
)

// ConnectorStepConfig is the config block for connector-type steps.
// Source selects the backend: static, json, csv, api, database.
type ConnectorStepConfig struct {
	Source  string            `json:"source"`
	Data    any               `json:"data,omitempty"`    // static
	Path    string            `json:"path,omitempty"`    // json, csv
	URL     string            `json:"url,omitempty"`     // api
	Method  string            `json:"method,omitempty"`  // api (default GET)
	Headers map[string]string `json:"headers,omitempty"` // api
	Query   string            `json:"query,omitempty"`   // database
}

// TransformStepConfig is the config block for transform-type steps.
type TransformStepConfig struct {
	Template   map[string]any `json:"template,omitempty"`
	Expression string         `json:"expression,omitempty"` // jq alternative
}

// FilterStepConfig is the config block for filter-type steps: a single
// {field, operator, value} predicate applied to each array element.
type FilterStepConfig struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// AggregateStepConfig is the config block for aggregate-type steps.
// Operation is one of count, sum, average, min, max, groupBy.
type AggregateStepConfig struct {
	Operation string `json:"operation"`
	Field     string `json:"field,omitempty"`
}

// AgentStepConfig is the config block for agent-type steps.
type AgentStepConfig struct {
	AgentID string `json:"agent_id"`
}

// VectorStepConfig is the config block for vector-type steps.
type VectorStepConfig struct {
	CollectionID string  `json:"collection_id"`
	Operation    string  `json:"operation"` // add | search
	Query        string  `json:"query,omitempty"`
	TopK         int     `json:"top_k,omitempty"`
	MinScore     float64 `json:"min_score,omitempty"`
	TextField    string  `json:"text_field,omitempty"` // field holding the text to embed (default "text", fallback "content")
}
