package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/flowline/internal/expressions"
	"github.com/rendis/flowline/pkg/schema"
)

// compiledStep is a step with its config decoded and templates parsed.
// Definitions are compiled once per run so no JSON or template parsing
// happens while steps execute.
type compiledStep struct {
	index          int
	kind           schema.StepType
	label          string
	outputVariable string

	connector *schema.ConnectorStepConfig
	transform *transformStep
	filter    *schema.FilterStepConfig
	aggregate *schema.AggregateStepConfig
	agent     *schema.AgentStepConfig
	vector    *schema.VectorStepConfig
}

type transformStep struct {
	template   *expressions.Template
	expression string
}

func (s *compiledStep) name() string {
	if s.label != "" {
		return s.label
	}
	return fmt.Sprintf("step %d (%s)", s.index+1, s.kind)
}

// compileSteps decodes and validates every step config up front.
func compileSteps(def *schema.PipelineDefinition) ([]*compiledStep, error) {
	steps := make([]*compiledStep, 0, len(def.Steps))
	for i, raw := range def.Steps {
		step := &compiledStep{
			index:          i,
			kind:           raw.Type,
			label:          raw.Label,
			outputVariable: raw.OutputVariable,
		}

		switch raw.Type {
		case schema.StepTypeConnector:
			cfg := &schema.ConnectorStepConfig{}
			if err := decodeConfig(raw.Config, cfg, i, raw.Type); err != nil {
				return nil, err
			}
			if cfg.Source == "" {
				return nil, stepConfigError(i, raw.Type, "source is required")
			}
			step.connector = cfg

		case schema.StepTypeTransform:
			cfg := &schema.TransformStepConfig{}
			if err := decodeConfig(raw.Config, cfg, i, raw.Type); err != nil {
				return nil, err
			}
			ts := &transformStep{expression: cfg.Expression}
			if cfg.Expression == "" {
				if len(cfg.Template) == 0 {
					return nil, stepConfigError(i, raw.Type, "template or expression is required")
				}
				tmpl, err := expressions.CompileTemplate(cfg.Template)
				if err != nil {
					return nil, stepConfigError(i, raw.Type, err.Error())
				}
				ts.template = tmpl
			}
			step.transform = ts

		case schema.StepTypeFilter:
			cfg := &schema.FilterStepConfig{}
			if err := decodeConfig(raw.Config, cfg, i, raw.Type); err != nil {
				return nil, err
			}
			if cfg.Field == "" || cfg.Operator == "" {
				return nil, stepConfigError(i, raw.Type, "field and operator are required")
			}
			step.filter = cfg

		case schema.StepTypeAggregate:
			cfg := &schema.AggregateStepConfig{}
			if err := decodeConfig(raw.Config, cfg, i, raw.Type); err != nil {
				return nil, err
			}
			if cfg.Operation == "" {
				return nil, stepConfigError(i, raw.Type, "operation is required")
			}
			step.aggregate = cfg

		case schema.StepTypeAgent:
			cfg := &schema.AgentStepConfig{}
			if err := decodeConfig(raw.Config, cfg, i, raw.Type); err != nil {
				return nil, err
			}
			if cfg.AgentID == "" {
				return nil, stepConfigError(i, raw.Type, "agent_id is required")
			}
			step.agent = cfg

		case schema.StepTypeVector:
			cfg := &schema.VectorStepConfig{}
			if err := decodeConfig(raw.Config, cfg, i, raw.Type); err != nil {
				return nil, err
			}
			if cfg.CollectionID == "" {
				return nil, stepConfigError(i, raw.Type, "collection_id is required")
			}
			if cfg.Operation != "add" && cfg.Operation != "search" {
				return nil, stepConfigError(i, raw.Type, fmt.Sprintf("unknown vector operation %q", cfg.Operation))
			}
			step.vector = cfg

		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %d has unknown type %q", i+1, raw.Type)
		}

		steps = append(steps, step)
	}
	return steps, nil
}

func decodeConfig(raw json.RawMessage, out any, index int, kind schema.StepType) error {
	if len(raw) == 0 {
		return stepConfigError(index, kind, "config is required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return stepConfigError(index, kind, err.Error())
	}
	return nil
}

func stepConfigError(index int, kind schema.StepType, msg string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "step %d (%s): %s", index+1, kind, msg)
}

// recordCount is the recordsProcessed contribution of a step output: array
// length for arrays, 0 for nil, 1 otherwise.
func recordCount(output any) int {
	switch v := output.(type) {
	case nil:
		return 0
	case []any:
		return len(v)
	default:
		return 1
	}
}
