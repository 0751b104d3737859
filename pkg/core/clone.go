package core

// CloneBody returns a deep copy of b. Nested maps and slices are copied so the
// result can be handed to callers without exposing stored state.
func CloneBody(b Body) Body {
	if b == nil {
		return nil
	}
	return Body(CloneMap(b))
}

// CloneMap deep-copies a generic map.
func CloneMap[M ~map[string]any](m M) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies the container types produced by the JSON and YAML
// decoders. Scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case Body:
		return CloneBody(t)
	case Metadata:
		return Metadata(CloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
