package event

import (
	"fmt"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator checks record payloads against per-topic JSON Schemas.
type Validator struct {
	resolved map[string]*jsonschema.Resolved
}

// NewValidator resolves every schema up front so bad schemas fail at startup.
func NewValidator(schemas map[string]*jsonschema.Schema) (*Validator, error) {
	resolved := make(map[string]*jsonschema.Resolved, len(schemas))

	for topic, schema := range schemas {
		if schema == nil {
			continue
		}

		r, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve schema for topic %q: %w", topic, err)
		}

		resolved[topic] = r
	}

	return &Validator{resolved: resolved}, nil
}

// Validate sets ev.SchemaErr when the event's payload violates its topic schema.
// Events without a payload or without a schema are left untouched.
func (v *Validator) Validate(ev *Event) {
	if v == nil || ev.Payload == nil || ev.Kind != KindRecord {
		return
	}

	r, ok := v.resolved[ev.Topic]
	if !ok {
		return
	}

	if err := r.Validate(ev.Payload); err != nil {
		ev.SchemaErr = fmt.Errorf("topic %q: %w", ev.Topic, err)
	}
}

// SimpleSchema creates an object schema from a simple type map.
//
// Input format: {"items": "[]string", "count": "int"}
// Every listed property is required.
func SimpleSchema(props map[string]string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	required := make([]string, 0, len(props))

	for name, goType := range props {
		properties[name] = goTypeToJSONSchema(goType)
		required = append(required, name)
	}

	slices.Sort(required)

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// goTypeToJSONSchema converts a Go type string to a JSON Schema type.
func goTypeToJSONSchema(goType string) *jsonschema.Schema {
	switch goType {
	case "string":
		return &jsonschema.Schema{Type: "string"}
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		return &jsonschema.Schema{Type: "integer"}
	case "float32", "float64", "float", "number":
		return &jsonschema.Schema{Type: "number"}
	case "bool", "boolean":
		return &jsonschema.Schema{Type: "boolean"}
	case "any":
		return &jsonschema.Schema{}
	case "object", "map[string]any":
		return &jsonschema.Schema{Type: "object"}
	default:
		if len(goType) > 2 && goType[:2] == "[]" {
			return &jsonschema.Schema{
				Type:  "array",
				Items: goTypeToJSONSchema(goType[2:]),
			}
		}

		return &jsonschema.Schema{Type: "string"}
	}
}
