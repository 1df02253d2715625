package expressions

import "context"

// Engine evaluates expressions against a run's variable bag.
// Three implementations: Expr (default conditions), CEL (sandboxed
// conditions), GoJQ (transform expressions).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error)
}
