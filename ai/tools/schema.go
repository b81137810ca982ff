package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// JSONSchema describes a tool's argument object. It covers the subset of
// JSON Schema the registry validates: required fields and primitive types.
type JSONSchema struct {
	Type        string                 `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
}

// ObjectSchema builds an object schema from property definitions.
func ObjectSchema(properties map[string]*JSONSchema, required ...string) *JSONSchema {
	return &JSONSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// String returns the schema as a JSON Schema string for the LLM provider.
func (s *JSONSchema) String() string {
	if s == nil {
		return `{"type":"object","properties":{}}`
	}
	data, err := json.Marshal(s)
	if err != nil {
		return `{"type":"object","properties":{}}`
	}
	return string(data)
}

// ValidationError reports malformed or schema-violating tool arguments.
// It is returned to the LLM as a tool-result error, never a crash.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// ValidateArgs checks args against the schema: required fields must be
// present and typed properties must hold values of the declared type.
func ValidateArgs(tool string, args map[string]any, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	for _, field := range schema.Required {
		if _, ok := args[field]; !ok {
			return &ValidationError{Tool: tool, Reason: "missing required field: " + field}
		}
	}

	for key, value := range args {
		prop, ok := schema.Properties[key]
		if !ok || prop.Type == "" {
			continue
		}
		if err := checkType(value, prop.Type); err != nil {
			return &ValidationError{Tool: tool, Reason: fmt.Sprintf("field %s: %v", key, err)}
		}
		if len(prop.Enum) > 0 {
			if s, ok := value.(string); ok && !containsString(prop.Enum, s) {
				return &ValidationError{Tool: tool, Reason: fmt.Sprintf("field %s: %q is not one of %v", key, s, prop.Enum)}
			}
		}
	}

	return nil
}

func checkType(value any, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return math.Trunc(v) == v
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
