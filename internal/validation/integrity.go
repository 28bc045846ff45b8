package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/flowcanvas/internal/expressions"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// checkIntegrity analyses the committed graph of a canvas. Preview lines are
// suggestions and never count as routing.
func checkIntegrity(snap *schema.Snapshot, cel *expressions.CELEngine) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if snap == nil || len(snap.Nodes) == 0 {
		return result
	}

	nodes := make(map[string]*schema.Node, len(snap.Nodes))
	var starts []string
	for _, n := range snap.Nodes {
		nodes[n.ID] = n
		path := fmt.Sprintf("nodes[%s]", n.ID)
		if !n.Kind.Valid() {
			result.AddError(path, schema.IssueUnknownKind, fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind))
		}
		if n.Kind == schema.NodeKindStart {
			starts = append(starts, n.ID)
		}
	}
	sort.Strings(starts)
	switch len(starts) {
	case 0:
		result.AddError("nodes", schema.IssueMissingStart, "canvas has no start node")
	case 1:
	default:
		result.AddError("nodes", schema.IssueMultipleStart, fmt.Sprintf("canvas has %d start nodes: %v", len(starts), starts))
	}

	out := make(map[string][]string, len(nodes))
	in := make(map[string]int, len(nodes))
	for _, c := range snap.Connections {
		if nodes[c.SourceID] == nil || nodes[c.TargetID] == nil {
			result.AddError(fmt.Sprintf("connections[%s]", c.ID), schema.IssueDanglingEdge,
				fmt.Sprintf("connection %q references a missing node", c.ID))
			continue
		}
		out[c.SourceID] = append(out[c.SourceID], c.TargetID)
		in[c.TargetID]++
	}

	for _, n := range snap.Nodes {
		path := fmt.Sprintf("nodes[%s]", n.ID)
		checkOutputs(result, path, n, len(out[n.ID]))
		if !n.IsConfigured && n.Kind != schema.NodeKindStart && n.Kind != schema.NodeKindEnd {
			result.AddWarning(path, schema.IssueUnconfigured, fmt.Sprintf("node %q is not configured", n.ID))
		}
		if cel != nil && n.Kind.IsSplit() {
			for _, b := range expressions.Branches(n) {
				if b.Condition == "" {
					continue
				}
				if err := cel.Check(b.Condition); err != nil {
					result.AddError(fmt.Sprintf("%s.branches[%s]", path, b.ID), schema.IssueInvalidCondition, err.Error())
				}
			}
		}
	}

	if hasCycle(snap.Nodes, out, in) {
		result.AddWarning("connections", schema.IssueCycle, "committed connections contain a loop")
	}

	if len(starts) > 0 {
		reachable := reach(starts, out)
		for _, n := range snap.Nodes {
			if !reachable[n.ID] {
				result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID), schema.IssueUnreachable,
					fmt.Sprintf("node %q is unreachable from the start node", n.ID))
			}
		}
	}
	return result
}

func checkOutputs(result *schema.ValidationResult, path string, n *schema.Node, count int) {
	spec, ok := schema.Kinds[n.Kind]
	if !ok {
		return
	}
	limit := spec.MaxOutputs
	if limit == schema.UnlimitedOutputs {
		branches := expressions.Branches(n)
		if len(branches) == 0 {
			return
		}
		limit = len(branches)
	}
	if count > limit {
		result.AddWarning(path, schema.IssueTooManyOutputs,
			fmt.Sprintf("node %q has %d outgoing connections, kind %s allows %d", n.ID, count, n.Kind, limit))
	}
}

// hasCycle runs Kahn's algorithm over the committed edges.
func hasCycle(nodes []*schema.Node, out map[string][]string, in map[string]int) bool {
	degree := make(map[string]int, len(nodes))
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		degree[n.ID] = in[n.ID]
		if in[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range out[id] {
			degree[next]--
			if degree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(nodes)
}

func reach(roots []string, out map[string][]string) map[string]bool {
	seen := make(map[string]bool)
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		seen[r] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range out[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
