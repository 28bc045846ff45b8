package validation

import "github.com/rendis/flowcanvas/pkg/schema"

// Validator checks seed scenarios and mounted canvases.
// Scenario shape uses JSON Schema Draft 2020-12; flow integrity is graph analysis.
type Validator interface {
	ValidateScenario(raw []byte) *schema.ValidationResult
	CheckIntegrity(snap *schema.Snapshot) *schema.ValidationResult
}
