package core

import "fmt"

// MergeStrategy selects how documents are combined by a merge.
type MergeStrategy int

const (
	// MergeOverride overwrites top-level keys in input order.
	MergeOverride MergeStrategy = iota
	// MergeDeep recurses when both sides hold a mapping, otherwise overwrites.
	MergeDeep
	// MergeAppend concatenates sequences already present, otherwise overwrites.
	MergeAppend
)

var strategyNames = map[MergeStrategy]string{
	MergeOverride: "override",
	MergeDeep:     "deep_merge",
	MergeAppend:   "append",
}

// String returns the wire name of the strategy.
func (s MergeStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("MergeStrategy(%d)", int(s))
}

// ParseMergeStrategy maps a wire name to a strategy.
func ParseMergeStrategy(name string) (MergeStrategy, error) {
	switch name {
	case "override", "":
		return MergeOverride, nil
	case "deep_merge", "deep", "deepMerge":
		return MergeDeep, nil
	case "append":
		return MergeAppend, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s MergeStrategy) MarshalText() ([]byte, error) {
	if _, ok := strategyNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MergeStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseMergeStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Apply merges src into dst in place. Values taken from src are deep-copied.
func (s MergeStrategy) Apply(dst, src Body) error {
	switch s {
	case MergeOverride:
		mergeOverride(dst, src)
	case MergeDeep:
		mergeDeep(dst, src)
	case MergeAppend:
		mergeAppend(dst, src)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return nil
}

func mergeOverride(dst, src Body) {
	for k, v := range src {
		dst[k] = CloneValue(v)
	}
}

func mergeDeep(dst map[string]any, src map[string]any) {
	for k, v := range src {
		if existing, ok := asMap(dst[k]); ok {
			if incoming, ok := asMap(v); ok {
				mergeDeep(existing, incoming)
				dst[k] = existing
				continue
			}
		}
		dst[k] = CloneValue(v)
	}
}

func mergeAppend(dst, src Body) {
	for k, v := range src {
		if existing, ok := dst[k].([]any); ok {
			if incoming, ok := v.([]any); ok {
				dst[k] = append(existing, CloneValue(incoming).([]any)...)
				continue
			}
		}
		dst[k] = CloneValue(v)
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Body:
		return m, true
	case Metadata:
		return m, true
	}
	return nil, false
}

// Valid reports whether s names a known strategy.
func (s MergeStrategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}
