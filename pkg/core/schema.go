package core

import (
	"fmt"
	"sort"
)

// Property describes the primitive type expected for one field.
type Property struct {
	Type string `json:"type"`
}

// Schema is the minimal document schema: required keys plus primitive types.
type Schema struct {
	Required   []string            `json:"required,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
}

// SchemaFromBody reads a schema out of a stored document body.
func SchemaFromBody(b Body) Schema {
	var s Schema
	switch req := b["required"].(type) {
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	case []string:
		s.Required = append(s.Required, req...)
	}
	if props, ok := asMap(b["properties"]); ok {
		s.Properties = make(map[string]Property, len(props))
		for name, raw := range props {
			if p, ok := asMap(raw); ok {
				t, _ := p["type"].(string)
				s.Properties[name] = Property{Type: t}
			}
		}
	}
	return s
}

// Body renders the schema as a storable document body.
func (s Schema) Body() Body {
	req := make([]any, len(s.Required))
	for i, r := range s.Required {
		req[i] = r
	}
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = map[string]any{"type": p.Type}
	}
	return Body{"required": req, "properties": props}
}

// Validate checks b against the schema. Only the first violation is reported,
// required fields first, then property types in name order.
func (s Schema) Validate(b Body) error {
	for _, field := range s.Required {
		if _, ok := b[field]; !ok {
			return &ValidationError{Field: field, Reason: "required field missing"}
		}
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := b[name]
		if !ok {
			continue
		}
		want := s.Properties[name].Type
		if want == "" {
			continue
		}
		if !matchesType(v, want) {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("expected %s, got %T", want, v)}
		}
	}
	return nil
}

func matchesType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "number":
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := asMap(v)
		return ok
	}
	// Unknown type names are not enforced.
	return true
}
