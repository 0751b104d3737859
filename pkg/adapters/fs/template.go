package fs

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/beacon/pkg/core"
)

const templatePrefix = "template_"

// placeholder returns the value a template field takes without a default.
func placeholder(f core.FieldSpec) any {
	switch f.Type {
	case "", "string":
		return fmt.Sprintf("<%s>", f.Name)
	case "integer":
		return 0
	case "number":
		return 0.0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	}
	return nil
}

// Template saves template_<name>, a document holding one entry per field
// (its default, or a placeholder for its type) flagged as a template. Fields
// of an unknown type without a default are only listed in _template_info.
func (s *Store) Template(ctx context.Context, name string, fields []core.FieldSpec) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}

	specs := make([]any, len(fields))
	body := core.Body{}
	for i, f := range fields {
		if f.Name == "" {
			return "", &core.ValidationError{Field: "name", Reason: fmt.Sprintf("field %d has no name", i)}
		}
		entry := map[string]any{"name": f.Name, "type": f.Type}
		if f.Type == "" {
			entry["type"] = "string"
		}
		if f.Default != nil {
			entry["default"] = f.Default
			body[f.Name] = core.CloneValue(f.Default)
		} else if v := placeholder(f); v != nil {
			body[f.Name] = v
		}
		specs[i] = entry
	}

	body["_template"] = true
	body["_template_info"] = map[string]any{
		"name":    name,
		"created": s.now().Format(time.RFC3339Nano),
		"fields":  specs,
	}
	return s.Save(ctx, templatePrefix+name, body, "")
}
