package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowline/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowline.dev/schemas/workflow.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["start", "end", "agent", "condition", "delay", "transform"]
        },
        "label": { "type": "string" },
        "output_variable": { "type": "string" },
        "config": {}
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "source_handle": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// pipelineSchemaJSON is the JSON Schema for PipelineDefinition validation.
const pipelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowline.dev/schemas/pipeline.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {
            "type": "string",
            "enum": ["connector", "transform", "filter", "aggregate", "agent", "vector"]
          },
          "label": { "type": "string" },
          "output_variable": { "type": "string" },
          "config": {}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// Validator checks workflow and pipeline definitions before they run.
// Safe for concurrent use.
type Validator struct {
	workflowSchema *jsonschema.Schema
	pipelineSchema *jsonschema.Schema
}

// NewValidator compiles the embedded definition schemas.
func NewValidator() (*Validator, error) {
	wf, err := compileEmbedded("https://flowline.dev/schemas/workflow.json", workflowSchemaJSON)
	if err != nil {
		return nil, err
	}
	pl, err := compileEmbedded("https://flowline.dev/schemas/pipeline.json", pipelineSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Validator{workflowSchema: wf, pipelineSchema: pl}, nil
}

func compileEmbedded(url, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

// ValidateWorkflow checks a workflow definition against the JSON Schema and
// the structural rules the schema cannot express: unique node IDs and edges
// that reference existing nodes.
func (v *Validator) ValidateWorkflow(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}

	nodes := make(map[string]struct{}, len(def.Nodes))
	for _, n := range def.Nodes {
		if _, exists := nodes[n.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID)
		}
		nodes[n.ID] = struct{}{}
	}
	for _, e := range def.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown target node %q", e.ID, e.Target)
		}
	}
	return nil
}

// ValidatePipeline checks a pipeline definition against the JSON Schema.
func (v *Validator) ValidatePipeline(def *schema.PipelineDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "pipeline definition is nil")
	}
	if len(def.Steps) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "pipeline has no steps")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize pipeline definition").WithCause(err)
	}
	if err := v.pipelineSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding so numeric values
// become json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// the leaf violations collected into details.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
