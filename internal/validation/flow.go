package validation

import (
	"github.com/rendis/flowcanvas/internal/expressions"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// FlowValidator combines scenario shape checks, per-kind config checks and
// graph integrity analysis.
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
	cel        *expressions.CELEngine
}

// NewFlowValidator creates a FlowValidator. cel may be nil to skip branch
// condition checks.
func NewFlowValidator(cel *expressions.CELEngine) (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{jsonSchema: jsv, cel: cel}, nil
}

// ValidateScenario checks raw scenario JSON against the scenario schema.
func (fv *FlowValidator) ValidateScenario(raw []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	err := fv.jsonSchema.ValidateScenario(raw)
	if err == nil {
		return result
	}
	ce, ok := err.(*schema.CanvasError)
	if ok && ce.Details != nil {
		if violations, ok := ce.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, err.Error())
	return result
}

// ValidateNodeConfig checks one node's config against its kind's schema.
func (fv *FlowValidator) ValidateNodeConfig(n *schema.Node) error {
	return fv.jsonSchema.ValidateNodeConfig(n)
}

// CheckIntegrity runs graph analysis and config checks on a canvas snapshot.
func (fv *FlowValidator) CheckIntegrity(snap *schema.Snapshot) *schema.ValidationResult {
	result := checkIntegrity(snap, fv.cel)
	if snap == nil {
		return result
	}
	for _, n := range snap.Nodes {
		if err := fv.jsonSchema.ValidateNodeConfig(n); err != nil {
			result.AddError("nodes["+n.ID+"].config", schema.ErrCodeValidation, err.Error())
		}
	}
	return result
}

var _ Validator = (*FlowValidator)(nil)
