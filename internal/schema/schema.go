// Package schema models the JSON-schema subset used to describe tool
// parameters and validates call arguments against it.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Property describes a single named parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Input is the parameter schema a tool advertises.
type Input struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Output describes the shape of a tool result.
type Output struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// NewInput returns an object schema over the given properties.
func NewInput(props map[string]Property, required ...string) Input {
	return Input{Type: "object", Properties: props, Required: required}
}

// ValidationError reports every field that failed validation, keyed by
// field name. Callers surface Fields verbatim so the caller of a tool
// sees all problems at once instead of fixing them one by one.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks args against the schema and returns a *ValidationError
// listing every missing required field and every type mismatch. A nil
// return means the arguments are acceptable.
func (in Input) Validate(args map[string]any) error {
	fields := map[string]string{}

	for _, name := range in.Required {
		if _, ok := args[name]; !ok {
			fields[name] = "required field missing"
		}
	}

	for name, value := range args {
		prop, ok := in.Properties[name]
		if !ok {
			// Unknown arguments pass through; tools that care reject
			// them in their handlers.
			continue
		}
		if _, missing := fields[name]; missing {
			continue
		}
		if msg := checkType(prop.Type, value); msg != "" {
			fields[name] = msg
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// checkType validates a single value against a schema type name. An
// empty or unrecognized type name accepts anything.
func checkType(typ string, value any) string {
	switch typ {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected string, got %s", typeName(value))
		}
	case "number":
		if !isNumber(value) {
			return fmt.Sprintf("expected number, got %s", typeName(value))
		}
	case "integer":
		if !isInteger(value) {
			return fmt.Sprintf("expected integer, got %s", typeName(value))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %s", typeName(value))
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Sprintf("expected array, got %s", typeName(value))
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("expected object, got %s", typeName(value))
		}
	case "null":
		if value != nil {
			return fmt.Sprintf("expected null, got %s", typeName(value))
		}
	}
	return ""
}

// isNumber accepts the numeric types JSON decoding and Go callers
// actually produce.
func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

// isInteger accepts Go integer types plus float64 values that carry no
// fractional part, since encoding/json decodes every JSON number to
// float64.
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int32(v))
	}
	return false
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
