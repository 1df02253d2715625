package workflow

import (
	"encoding/json"

	"github.com/rendis/flowline/internal/expressions"
	"github.com/rendis/flowline/pkg/schema"
)

// compiledNode is a node with its config decoded and templates parsed.
type compiledNode struct {
	id             string
	kind           schema.NodeType
	label          string
	outputVariable string

	agent     *schema.AgentNodeConfig
	condition *schema.ConditionNodeConfig
	delayMs   int
	transform *transformNode
}

type transformNode struct {
	template   *expressions.Template
	expression string
}

func (n *compiledNode) name() string {
	if n.label != "" {
		return n.label
	}
	return n.id
}

// compiledGraph is a workflow definition ready to execute: decoded nodes
// plus the outgoing-edge index.
type compiledGraph struct {
	order    []*compiledNode
	nodes    map[string]*compiledNode
	outgoing map[string][]schema.Edge
	incoming map[string]int
}

// compileGraph decodes and validates a workflow definition. Node IDs must
// be unique and edges must reference existing nodes.
func compileGraph(def *schema.WorkflowDefinition) (*compiledGraph, error) {
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes")
	}

	g := &compiledGraph{
		nodes:    make(map[string]*compiledNode, len(def.Nodes)),
		outgoing: make(map[string][]schema.Edge),
		incoming: make(map[string]int),
	}

	for _, raw := range def.Nodes {
		if _, exists := g.nodes[raw.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", raw.ID)
		}
		node, err := compileNode(raw)
		if err != nil {
			return nil, err
		}
		g.nodes[raw.ID] = node
		g.order = append(g.order, node)
	}

	for _, e := range def.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %q references unknown target node %q", e.ID, e.Target)
		}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target]++
	}

	return g, nil
}

func compileNode(raw schema.Node) (*compiledNode, error) {
	node := &compiledNode{
		id:             raw.ID,
		kind:           raw.Type,
		label:          raw.Label,
		outputVariable: raw.OutputVariable,
	}

	switch raw.Type {
	case schema.NodeTypeStart, schema.NodeTypeEnd:
		// No config.

	case schema.NodeTypeAgent:
		cfg := &schema.AgentNodeConfig{}
		if err := decodeNodeConfig(raw, cfg); err != nil {
			return nil, err
		}
		if cfg.AgentID == "" {
			return nil, nodeConfigError(raw, "agent_id is required")
		}
		node.agent = cfg

	case schema.NodeTypeCondition:
		cfg := &schema.ConditionNodeConfig{}
		if err := decodeNodeConfig(raw, cfg); err != nil {
			return nil, err
		}
		if cfg.Expression == "" && (cfg.Variable == "" || cfg.Operator == "") {
			return nil, nodeConfigError(raw, "either an expression or a variable and operator are required")
		}
		node.condition = cfg

	case schema.NodeTypeDelay:
		cfg := &schema.DelayNodeConfig{}
		if len(raw.Config) > 0 {
			if err := decodeNodeConfig(raw, cfg); err != nil {
				return nil, err
			}
		}
		if cfg.DurationMs <= 0 {
			cfg.DurationMs = 1000
		}
		node.delayMs = cfg.DurationMs

	case schema.NodeTypeTransform:
		cfg := &schema.TransformNodeConfig{}
		if err := decodeNodeConfig(raw, cfg); err != nil {
			return nil, err
		}
		tn := &transformNode{expression: cfg.Expression}
		if cfg.Expression == "" {
			if len(cfg.Template) == 0 {
				return nil, nodeConfigError(raw, "template or expression is required")
			}
			tmpl, err := expressions.CompileTemplate(cfg.Template)
			if err != nil {
				return nil, nodeConfigError(raw, err.Error())
			}
			tn.template = tmpl
		}
		node.transform = tn

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q has unknown type %q", raw.ID, raw.Type)
	}

	return node, nil
}

func decodeNodeConfig(raw schema.Node, out any) error {
	if len(raw.Config) == 0 {
		return nodeConfigError(raw, "config is required")
	}
	if err := json.Unmarshal(raw.Config, out); err != nil {
		return nodeConfigError(raw, err.Error())
	}
	return nil
}

func nodeConfigError(raw schema.Node, msg string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "node %q (%s): %s", raw.ID, raw.Type, msg).WithNode(raw.ID)
}

// startNode resolves the entry point: a start-type node with zero incoming
// edges, else the first node in definition order.
func (g *compiledGraph) startNode() *compiledNode {
	for _, node := range g.order {
		if node.kind == schema.NodeTypeStart && g.incoming[node.id] == 0 {
			return node
		}
	}
	return g.order[0]
}
