package fs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aretw0/beacon/pkg/core"
	"gopkg.in/yaml.v3"
)

// Serializer defines how to read and write a specific file format.
type Serializer interface {
	// Decode parses data into a document body.
	Decode(data []byte) (core.Body, error)
	// Encode converts a document body to bytes.
	Encode(body core.Body) ([]byte, error)
}

// extensionOrder is the probe order used to resolve a name to a file.
var extensionOrder = []string{".json", ".yaml", ".yml"}

// DefaultSerializers returns the standard set of serializers keyed by extension.
func DefaultSerializers() map[string]Serializer {
	y := YAMLSerializer{}
	return map[string]Serializer{
		".json": JSONSerializer{},
		".yaml": y,
		".yml":  y,
	}
}

func formatOf(ext string) core.Format {
	if ext == ".json" {
		return core.FormatJSON
	}
	return core.FormatYAML
}

// --- JSON Serializer ---

// JSONSerializer handles reading and writing JSON files. Integral numbers are
// decoded as int so that values round-trip with the same type as YAML.
type JSONSerializer struct{}

func (JSONSerializer) Decode(data []byte) (core.Body, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return core.Body(normalize(payload).(map[string]any)), nil
}

func (JSONSerializer) Encode(body core.Body) ([]byte, error) {
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// --- YAML Serializer ---

// YAMLSerializer handles reading and writing YAML files.
type YAMLSerializer struct{}

func (YAMLSerializer) Decode(data []byte) (core.Body, error) {
	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return core.Body(normalize(payload).(map[string]any)), nil
}

func (YAMLSerializer) Encode(body core.Body) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(body)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize converts decoder output to the shapes used across the store:
// string-keyed maps, []any sequences, int for integral numbers.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	default:
		return v
	}
}
