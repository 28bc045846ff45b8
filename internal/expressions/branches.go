package expressions

import (
	"context"

	"github.com/rendis/flowcanvas/pkg/schema"
)

// Branch is one outgoing path of a split node, read from config["branches"].
type Branch struct {
	ID        string
	Condition string
	Default   bool
}

// Branches reads the branch list of a split node. Entries without an id are skipped.
func Branches(n *schema.Node) []Branch {
	if n == nil {
		return nil
	}
	raw, ok := n.Config["branches"].([]any)
	if !ok {
		return nil
	}
	out := make([]Branch, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		b := Branch{ID: id}
		b.Condition, _ = m["condition"].(string)
		b.Default, _ = m["default"].(bool)
		out = append(out, b)
	}
	return out
}

// NodeData is the view of a node exposed to expressions.
func NodeData(n *schema.Node) map[string]any {
	cfg := n.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return map[string]any{
		"id":           n.ID,
		"kind":         string(n.Kind),
		"label":        n.Label,
		"branchId":     n.BranchID,
		"isConfigured": n.IsConfigured,
		"x":            n.Position.X,
		"y":            n.Position.Y,
		"config":       cfg,
	}
}

// EvaluateBranch routes a contact through a split node: the first branch whose
// condition holds wins, then the default branch. It returns "" when nothing matches.
func (e *CELEngine) EvaluateBranch(ctx context.Context, n *schema.Node, audience, event map[string]any) (string, error) {
	if n == nil || !n.Kind.IsSplit() {
		return "", schema.NewError(schema.ErrCodeValidation, "branch evaluation needs a split node")
	}
	data := map[string]any{"audience": audience, "event": event, "node": NodeData(n)}

	fallback := ""
	for _, b := range Branches(n) {
		if b.Condition == "" {
			if b.Default && fallback == "" {
				fallback = b.ID
			}
			continue
		}
		ok, err := e.EvaluateBool(ctx, b.Condition, data)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecution, "branch %s: %s", b.ID, err.Error()).
				WithNode(n.ID).WithCause(err)
		}
		if ok {
			return b.ID, nil
		}
	}
	return fallback, nil
}
