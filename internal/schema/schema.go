// Package schema implements a minimal structural validator for the
// parameter_schema JSON strings carried on FunctionCapability (§3, §6).
//
// No JSON-Schema library is carried anywhere in this codebase's reference
// corpus (checked across every example repository's go.mod and vendored
// source); a hand-rolled subset validator is used here instead, as the
// documented standard-library fallback for that gap. It supports the
// subset actually needed by the spec's edge cases: object "type",
// "required", "properties" (with nested "type"/"enum"), and primitive
// "type" checks for string/number/integer/boolean/array/object.
package schema

import (
	"encoding/json"
	"fmt"
)

// Schema is a decoded parameter_schema document.
type Schema struct {
	Type       string             `json:"type"`
	Required   []string           `json:"required"`
	Properties map[string]*Schema `json:"properties"`
	Enum       []any              `json:"enum"`
	Items      *Schema            `json:"items"`
}

// Parse decodes a parameter_schema string into a Schema.
func Parse(raw string) (*Schema, error) {
	if raw == "" {
		return &Schema{}, nil
	}
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("schema: parse parameter_schema: %w", err)
	}
	return &s, nil
}

// ValidationError describes one schema mismatch, produced as the
// caller-facing error_message text per §7.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks a JSON-decoded value (as produced by
// json.Unmarshal(raw, &any)) against s. An empty Schema (no type set)
// always validates, matching strict_schema_validation=false behavior at
// the call site.
func (s *Schema) Validate(value any) error {
	return s.validateAt("$", value)
}

func (s *Schema) validateAt(path string, value any) error {
	if s == nil || s.Type == "" {
		return nil
	}

	switch s.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return &ValidationError{path, "expected an object"}
		}
		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				return &ValidationError{path, fmt.Sprintf("missing required property %q", name)}
			}
		}
		for name, propSchema := range s.Properties {
			v, present := obj[name]
			if !present {
				continue
			}
			if err := propSchema.validateAt(path+"."+name, v); err != nil {
				return err
			}
		}
		return nil

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return &ValidationError{path, "expected an array"}
		}
		if s.Items != nil {
			for i, v := range arr {
				if err := s.Items.validateAt(fmt.Sprintf("%s[%d]", path, i), v); err != nil {
					return err
				}
			}
		}
		return nil

	case "string":
		if _, ok := value.(string); !ok {
			return &ValidationError{path, "expected a string"}
		}
		return s.validateEnum(path, value)

	case "number":
		if _, ok := value.(float64); !ok {
			return &ValidationError{path, "expected a number"}
		}
		return s.validateEnum(path, value)

	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return &ValidationError{path, "expected an integer"}
		}
		return s.validateEnum(path, value)

	case "boolean":
		if _, ok := value.(bool); !ok {
			return &ValidationError{path, "expected a boolean"}
		}
		return nil

	default:
		return nil
	}
}

func (s *Schema) validateEnum(path string, value any) error {
	if len(s.Enum) == 0 {
		return nil
	}
	for _, allowed := range s.Enum {
		if allowed == value {
			return nil
		}
	}
	return &ValidationError{path, "value not in enum"}
}

// ValidateJSON parses raw JSON text and validates it against the schema
// parsed from schemaRaw, the common entry point used by Service Base.
func ValidateJSON(schemaRaw string, jsonText string) error {
	s, err := Parse(schemaRaw)
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal([]byte(jsonText), &value); err != nil {
		return fmt.Errorf("schema: parse parameters: %w", err)
	}
	return s.Validate(value)
}
