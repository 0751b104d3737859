package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/multierr"

	"github.com/aretw0/beacon/internal/fsutil"
	"github.com/aretw0/beacon/pkg/core"
)

const schemaPrefix = "schema_"

// BulkLoad loads every named document. Failures are collected and the
// documents that did load are still returned.
func (s *Store) BulkLoad(ctx context.Context, names []string) (map[string]core.Body, error) {
	out := make(map[string]core.Body, len(names))
	var errs error
	for _, name := range names {
		body, err := s.Load(ctx, name, true)
		if err != nil {
			multierr.AppendInto(&errs, err)
			continue
		}
		out[name] = body
	}
	return out, errs
}

// ExportAll writes every document into a single JSON file at path. The file
// is written even when some documents fail to load.
func (s *Store) ExportAll(ctx context.Context, path string) error {
	names, err := s.List(ctx)
	if err != nil {
		return err
	}
	docs, errs := s.BulkLoad(ctx, names)
	for _, e := range multierr.Errors(errs) {
		s.logger.Warn("export skipped document", "error", e)
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return multierr.Append(errs, err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return multierr.Append(errs, fmt.Errorf("failed to write export: %w", err))
	}
	return errs
}

// Match returns the stored names matching a doublestar glob pattern.
func (s *Store) Match(ctx context.Context, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	names, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, n := range names {
		if ok, _ := doublestar.Match(pattern, n); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// SaveSchema stores schema as the document schema_<name>.
func (s *Store) SaveSchema(ctx context.Context, name string, schema core.Schema) (string, error) {
	body := core.Body{
		"schema_name": name,
		"version":     core.DocumentVersion,
		"created_at":  s.now().Format(time.RFC3339Nano),
		"schema":      map[string]any(schema.Body()),
	}
	return s.Save(ctx, schemaPrefix+name, body, "")
}

// LoadSchema reads the schema stored under name.
func (s *Store) LoadSchema(ctx context.Context, name string) (core.Schema, error) {
	body, err := s.Load(ctx, schemaPrefix+name, true)
	if err != nil {
		return core.Schema{}, err
	}
	raw, ok := body["schema"].(map[string]any)
	if !ok {
		return core.Schema{}, &core.ValidationError{Field: "schema", Reason: "schema document has no schema mapping"}
	}
	return core.SchemaFromBody(raw), nil
}

// ValidateAgainst checks the stored document against a stored schema.
func (s *Store) ValidateAgainst(ctx context.Context, name, schemaName string) error {
	body, err := s.Load(ctx, name, true)
	if err != nil {
		return err
	}
	schema, err := s.LoadSchema(ctx, schemaName)
	if err != nil {
		return err
	}
	return schema.Validate(body.WithoutMeta())
}
