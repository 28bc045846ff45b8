package diagram

// Shape classifies a diagram node by how it is drawn.
type Shape string

const (
	ShapeStart  Shape = "start"
	ShapeEnd    Shape = "end"
	ShapeSplit  Shape = "split"
	ShapeAction Shape = "action"
	ShapeWait   Shape = "wait"
	// ShapeStub is the invisible end of a dangling preview line.
	ShapeStub Shape = "stub"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title     string
	Direction string // "TB" or "LR"
	Nodes     []*Node
	Edges     []Edge
	Levels    [][]string
}

// Node represents a single canvas node in the diagram.
type Node struct {
	ID     string
	Label  string
	Shape  Shape
	Status *StatusOverlay
}

// StatusOverlay carries configuration and validation state for a node.
type StatusOverlay struct {
	Configured bool
	Errors     int
	Warnings   int
}

// State reduces the overlay to one word: error, warning, unconfigured or ok.
func (s *StatusOverlay) State() string {
	switch {
	case s == nil:
		return ""
	case s.Errors > 0:
		return "error"
	case s.Warnings > 0 && !s.Configured:
		return "unconfigured"
	case s.Warnings > 0:
		return "warning"
	case !s.Configured:
		return "unconfigured"
	default:
		return "ok"
	}
}

// Edge is a committed connection, or a preview line when Preview is set.
type Edge struct {
	From    string
	To      string
	Label   string
	Preview bool
}
