package expressions

import (
	"fmt"
	"strings"

	"github.com/rendis/flowline/pkg/schema"
)

// Template is a compiled output template. String values of the form "$name"
// resolve to the referenced value with its type preserved; strings containing
// "${name}" interpolate the referenced values into the string; everything
// else passes through as a literal. Maps and arrays are resolved recursively.
//
// Templates are compiled once when a definition is loaded and resolved many
// times, so parsing never happens on the hot path.
type Template struct {
	root tmplNode
}

type tmplKind int

const (
	tmplLiteral tmplKind = iota
	tmplRef
	tmplInterp
	tmplMap
	tmplArray
)

type tmplNode struct {
	kind    tmplKind
	literal any
	ref     string        // tmplRef: variable name
	parts   []interpPart  // tmplInterp
	entries []tmplMapEnt  // tmplMap
	items   []tmplNode    // tmplArray
}

type tmplMapEnt struct {
	key  string
	node tmplNode
}

type interpPart struct {
	text string
	ref  string // non-empty means variable reference
}

// CompileTemplate parses a template map into a reusable Template.
func CompileTemplate(template map[string]any) (*Template, error) {
	root, err := compileValue(template)
	if err != nil {
		return nil, err
	}
	return &Template{root: root}, nil
}

func compileValue(v any) (tmplNode, error) {
	switch val := v.(type) {
	case string:
		return compileString(val)
	case map[string]any:
		node := tmplNode{kind: tmplMap, entries: make([]tmplMapEnt, 0, len(val))}
		for k, inner := range val {
			child, err := compileValue(inner)
			if err != nil {
				return tmplNode{}, err
			}
			node.entries = append(node.entries, tmplMapEnt{key: k, node: child})
		}
		return node, nil
	case []any:
		node := tmplNode{kind: tmplArray, items: make([]tmplNode, 0, len(val))}
		for _, inner := range val {
			child, err := compileValue(inner)
			if err != nil {
				return tmplNode{}, err
			}
			node.items = append(node.items, child)
		}
		return node, nil
	default:
		return tmplNode{kind: tmplLiteral, literal: v}, nil
	}
}

func compileString(s string) (tmplNode, error) {
	// A bare "$name" reference preserves the referenced value's type.
	if strings.HasPrefix(s, "$") && !strings.HasPrefix(s, "${") && len(s) > 1 && !strings.ContainsAny(s[1:], " ${}") {
		return tmplNode{kind: tmplRef, ref: s[1:]}, nil
	}

	if !strings.Contains(s, "${") {
		return tmplNode{kind: tmplLiteral, literal: s}, nil
	}

	var parts []interpPart
	rest := s
	for {
		idx := strings.Index(rest, "${")
		if idx == -1 {
			if rest != "" {
				parts = append(parts, interpPart{text: rest})
			}
			break
		}
		if idx > 0 {
			parts = append(parts, interpPart{text: rest[:idx]})
		}
		rest = rest[idx+2:]
		end := strings.Index(rest, "}")
		if end == -1 {
			return tmplNode{}, schema.NewErrorf(schema.ErrCodeValidation, "unclosed ${ in template string %q", s)
		}
		name := strings.TrimSpace(rest[:end])
		if name == "" {
			return tmplNode{}, schema.NewErrorf(schema.ErrCodeValidation, "empty variable reference in template string %q", s)
		}
		parts = append(parts, interpPart{ref: name})
		rest = rest[end+1:]
	}
	return tmplNode{kind: tmplInterp, parts: parts}, nil
}

// Resolve evaluates the template against the run's variable bag and an
// optional current record. Variables take precedence; a name not found in
// the bag falls back to the record's same-named field. Unknown references
// resolve to nil (or an empty string inside interpolations).
func (t *Template) Resolve(record map[string]any, vars map[string]any) map[string]any {
	out, _ := t.root.resolve(record, vars).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (n tmplNode) resolve(record, vars map[string]any) any {
	switch n.kind {
	case tmplLiteral:
		return n.literal
	case tmplRef:
		v, _ := lookup(n.ref, record, vars)
		return v
	case tmplInterp:
		var b strings.Builder
		for _, p := range n.parts {
			if p.ref == "" {
				b.WriteString(p.text)
				continue
			}
			if v, ok := lookup(p.ref, record, vars); ok && v != nil {
				b.WriteString(stringify(v))
			}
		}
		return b.String()
	case tmplMap:
		out := make(map[string]any, len(n.entries))
		for _, ent := range n.entries {
			out[ent.key] = ent.node.resolve(record, vars)
		}
		return out
	case tmplArray:
		out := make([]any, len(n.items))
		for i, item := range n.items {
			out[i] = item.resolve(record, vars)
		}
		return out
	default:
		return nil
	}
}

func lookup(name string, record, vars map[string]any) (any, bool) {
	if vars != nil {
		if v, ok := vars[name]; ok {
			return v, true
		}
	}
	if record != nil {
		if v, ok := record[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// Render whole numbers without a trailing .0, matching JSON habits.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
