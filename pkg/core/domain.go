// Package core holds the domain types shared by the config store, the service
// registry and the notification layer, plus the Coordinator that composes them.
package core

import (
	"fmt"
	"time"
)

// MetadataKey is the reserved top-level key holding document metadata.
const MetadataKey = "_metadata"

// DocumentVersion is the schema version stamped into every saved document.
const DocumentVersion = "1.0"

// Body is the structured content of a configuration document.
type Body map[string]any

// Metadata represents flexible key-value pairs (document metadata, record metadata).
type Metadata map[string]any

// Meta returns the reserved metadata sub-mapping, or nil when absent.
func (b Body) Meta() Metadata {
	switch m := b[MetadataKey].(type) {
	case map[string]any:
		return Metadata(m)
	case Metadata:
		return m
	}
	return nil
}

// WithoutMeta returns a shallow copy of b without the reserved metadata key.
func (b Body) WithoutMeta() Body {
	out := make(Body, len(b))
	for k, v := range b {
		if k == MetadataKey {
			continue
		}
		out[k] = v
	}
	return out
}

// Format selects the on-disk encoding of a document.
type Format string

const (
	// FormatJSON is the default encoding.
	FormatJSON Format = "json"
	// FormatYAML is the alternate encoding.
	FormatYAML Format = "yaml"
)

// Extension returns the file extension written for the format.
func (f Format) Extension() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// ParseFormat maps a user-facing name to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// HistoryEntry is a snapshot recorded by the history-aware save path.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	// Version identifies the snapshot; it is the RFC 3339 rendering of Timestamp.
	Version  string `json:"version"`
	Body     Body   `json:"config"`
	Checksum string `json:"checksum"`
}

// Change holds both sides of a modified key.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff partitions the key union of two snapshots.
type Diff struct {
	Added     map[string]any    `json:"added"`
	Removed   map[string]any    `json:"removed"`
	Modified  map[string]Change `json:"modified"`
	Unchanged map[string]any    `json:"unchanged"`
}

// FieldSpec describes one field of a configuration template.
type FieldSpec struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default any    `json:"default,omitempty"`
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	Location string        `json:"location"`
	Sources  []string      `json:"sources"`
	Skipped  []string      `json:"skipped,omitempty"`
	Strategy MergeStrategy `json:"strategy"`
	Body     Body          `json:"body"`
}

// DocumentInfo describes a stored document and its backing file.
type DocumentInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"file_path"`
	Size     int64     `json:"file_size"`
	Modified time.Time `json:"modified_time"`
	Metadata Metadata  `json:"metadata"`
	Keys     []string  `json:"keys"`
}

// EventType represents the kind of change observed on a document.
type EventType string

const (
	EventModified EventType = "modified"
)

// ChangeEvent is one entry of the notification change log.
type ChangeEvent struct {
	ID        string    `json:"id"`
	Name      string    `json:"config_name"`
	ChangedAt time.Time `json:"changed_at"`
	Type      EventType `json:"change_type"`
}

// String renders the event for logs and lifecycle sinks.
func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s at %s", e.Type, e.Name, e.ChangedAt.Format(time.RFC3339))
}
