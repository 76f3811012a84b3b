package service

import (
	"slices"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// FieldType names the JSON type accepted for a service data field.
type FieldType string

// Field types.
const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

var validFieldTypes = []FieldType{TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray, TypeAny}

// Field describes one key of the service data.
type Field struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	// Enum, when set, restricts string values.
	Enum []string `json:"enum,omitempty"`
}

// Schema is a data-driven description of accepted service data.
type Schema struct {
	Fields map[string]Field `json:"fields"`
	// AllowExtra accepts keys not listed in Fields.
	AllowExtra bool `json:"allow_extra,omitempty"`
}

// Check validates the schema itself.
func (s *Schema) Check() error {
	if s == nil {
		return nil
	}
	for name, f := range s.Fields {
		if name == "" {
			return &core.SchemaValidationError{Field: name, Message: "empty field name"}
		}
		if !slices.Contains(validFieldTypes, f.Type) {
			return &core.SchemaValidationError{Field: name, Message: "unknown type " + string(f.Type)}
		}
		if len(f.Enum) > 0 && f.Type != TypeString {
			return &core.SchemaValidationError{Field: name, Message: "enum is only valid for string fields"}
		}
	}
	return nil
}

// Validate checks data against the schema. Keys are checked in sorted order
// so the reported field is deterministic.
func (s *Schema) Validate(data map[string]any) error {
	if s == nil {
		return nil
	}

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		f := s.Fields[name]
		v, ok := data[name]
		if !ok {
			if f.Required {
				return core.NewValidationError(name, "required key not provided")
			}
			continue
		}
		if !matches(f.Type, v) {
			return core.NewValidationError(name, "expected %s", f.Type)
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, v.(string)) {
			return core.NewValidationError(name, "value %q is not allowed", v)
		}
	}

	if !s.AllowExtra {
		extra := make([]string, 0)
		for key := range data {
			if _, ok := s.Fields[key]; !ok {
				extra = append(extra, key)
			}
		}
		if len(extra) > 0 {
			slices.Sort(extra)
			return core.NewValidationError(extra[0], "extra keys not allowed")
		}
	}
	return nil
}

func matches(t FieldType, v any) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case TypeInteger:
		switch n := v.(type) {
		case int, int64, int32:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		if ok {
			return true
		}
		_, ok = v.([]string)
		return ok
	}
	return false
}
