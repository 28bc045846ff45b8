package expressions

import "context"

// Engine evaluates expressions against canvas data.
// Three implementations: CEL (branch conditions), Expr (node predicates), GoJQ (snapshot queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
