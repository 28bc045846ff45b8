package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowcanvas/pkg/schema"
)

const scenarioSchemaURL = "https://flowcanvas.dev/schemas/scenario.json"

// scenarioSchemaJSON describes a seed scenario. "nodes" and "connections" carry
// no "type" keyword: a null or non-array container is normalized to an empty
// list at decode time, so only the items of a real array are constrained.
const scenarioSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowcanvas.dev/schemas/scenario.json",
  "type": "object",
  "properties": {
    "nodes": { "items": { "$ref": "#/$defs/node" } },
    "connections": { "items": { "$ref": "#/$defs/connection" } }
  },
  "$defs": {
    "point": {
      "type": "object",
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      }
    },
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["start", "end", "audience-split", "crowd-split", "event-split", "ab-test",
                   "sms", "email", "wechat", "ai-call", "manual-call", "benefit", "wait", "task"]
        },
        "label": { "type": "string" },
        "position": { "$ref": "#/$defs/point" },
        "size": {
          "type": "object",
          "properties": {
            "width": { "type": "number", "minimum": 0 },
            "height": { "type": "number", "minimum": 0 }
          }
        },
        "branch_id": { "type": "string" },
        "is_configured": { "type": "boolean" },
        "config": { "type": "object" },
        "created_at": { "type": "string", "format": "date-time" }
      }
    },
    "connection": {
      "type": "object",
      "required": ["id", "source_id", "target_id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source_id": { "type": "string", "minLength": 1 },
        "target_id": { "type": "string", "minLength": 1 },
        "branch_id": { "type": "string" },
        "start": { "$ref": "#/$defs/point" },
        "end": { "$ref": "#/$defs/point" },
        "created_at": { "type": "string", "format": "date-time" }
      }
    }
  }
}`

// kindConfigSchemas constrain node config once a node is marked configured.
var kindConfigSchemas = map[schema.NodeKind]string{
	schema.NodeKindSMS: `{
  "type": "object",
  "required": ["template"],
  "properties": { "template": { "type": "string", "minLength": 1 }, "sender": { "type": "string" } }
}`,
	schema.NodeKindEmail: `{
  "type": "object",
  "required": ["subject", "template"],
  "properties": { "subject": { "type": "string", "minLength": 1 }, "template": { "type": "string", "minLength": 1 } }
}`,
	schema.NodeKindWait: `{
  "type": "object",
  "required": ["duration"],
  "properties": { "duration": { "type": "string", "pattern": "^[0-9]+(s|m|h|d)$" } }
}`,
	schema.NodeKindAudienceSplit: `{
  "type": "object",
  "required": ["branches"],
  "properties": {
    "branches": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "condition": { "type": "string" },
          "default": { "type": "boolean" }
        }
      }
    }
  }
}`,
}

// JSONSchemaValidator validates scenarios and node configs. Safe for concurrent use.
type JSONSchemaValidator struct {
	scenarioSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the scenario schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(scenarioSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal scenario schema: %w", err)
	}
	if err := c.AddResource(scenarioSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add scenario schema resource: %w", err)
	}
	compiled, err := c.Compile(scenarioSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}
	return &JSONSchemaValidator{
		scenarioSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateScenario validates raw scenario JSON.
func (v *JSONSchemaValidator) ValidateScenario(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "scenario is not valid JSON").WithCause(err)
	}
	if err := v.scenarioSchema.Validate(doc); err != nil {
		return toCanvasError(err)
	}
	return nil
}

// ValidateNodeConfig checks a configured node's config against its kind's
// schema. Kinds without a schema and unconfigured nodes always pass.
func (v *JSONSchemaValidator) ValidateNodeConfig(n *schema.Node) error {
	if n == nil || !n.IsConfigured {
		return nil
	}
	src, ok := kindConfigSchemas[n.Kind]
	if !ok {
		return nil
	}
	compiled, err := v.getOrCompile(src)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid config schema").WithCause(err)
	}
	cfg := n.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	doc, err := toJSONValue(cfg)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize node config").WithCause(err).WithNode(n.ID)
	}
	if err := compiled.Validate(doc); err != nil {
		return toCanvasError(err).WithNode(n.ID)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(src string) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if cached, ok := v.cache[src]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[src]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("flowcanvas://config-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[src] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toCanvasError flattens a jsonschema.ValidationError into one CanvasError
// listing every leaf violation with its instance location.
func toCanvasError(err error) *schema.CanvasError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
