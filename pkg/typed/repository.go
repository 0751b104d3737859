// Package typed offers generic, type-safe views over configuration documents.
// Values round-trip through JSON, so T follows encoding/json rules.
package typed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/beacon/pkg/core"
)

// Document is a typed view of a stored configuration document.
type Document[T any] struct {
	Name string
	Data T
	// Meta is the reserved metadata of the stored document, read-only.
	Meta  core.Metadata
	Saver Saver[T]
}

// Saver avoids coupling Document to a concrete Repository or Service.
type Saver[T any] interface {
	Save(ctx context.Context, doc *Document[T]) error
}

// Save persists the document through its attached saver.
func (d *Document[T]) Save(ctx context.Context) error {
	if d.Saver == nil {
		return fmt.Errorf("document %q is detached (missing Saver)", d.Name)
	}
	return d.Saver.Save(ctx, d)
}

// Repository wraps a core.ConfigStore to provide type-safe access.
type Repository[T any] struct {
	store  core.ConfigStore
	format core.Format
}

// NewRepository creates a typed wrapper saving in the given format. A zero
// format selects the store default.
func NewRepository[T any](store core.ConfigStore, format core.Format) *Repository[T] {
	return &Repository[T]{store: store, format: format}
}

// Save persists a typed document.
func (r *Repository[T]) Save(ctx context.Context, doc *Document[T]) error {
	body, err := toBody(doc.Data)
	if err != nil {
		return err
	}
	if doc.Saver == nil {
		doc.Saver = r
	}
	_, err = r.store.Save(ctx, doc.Name, body, r.format)
	return err
}

// Get loads a document and decodes it into T.
func (r *Repository[T]) Get(ctx context.Context, name string) (*Document[T], error) {
	body, err := r.store.Load(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return fromBody[T](name, body, r)
}

// List decodes every stored document matching pattern. An empty pattern
// selects every document.
func (r *Repository[T]) List(ctx context.Context, pattern string) ([]*Document[T], error) {
	var (
		names []string
		err   error
	)
	if pattern == "" {
		names, err = r.store.List(ctx)
	} else {
		names, err = r.store.Match(ctx, pattern)
	}
	if err != nil {
		return nil, err
	}

	result := make([]*Document[T], 0, len(names))
	for _, name := range names {
		doc, err := r.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to process document %s: %w", name, err)
		}
		result = append(result, doc)
	}
	return result, nil
}

// Delete removes a document, optionally keeping a backup.
func (r *Repository[T]) Delete(ctx context.Context, name string, backup bool) (bool, error) {
	return r.store.Delete(ctx, name, backup)
}

// Watch invokes fn with the decoded document whenever it changes. The store
// must support watching.
func (r *Repository[T]) Watch(name string, fn func(ctx context.Context, doc *Document[T]) error) error {
	w, ok := r.store.(core.Watchable)
	if !ok {
		return fmt.Errorf("store %T does not support watching", r.store)
	}
	return w.Watch(name, func(ctx context.Context, name string, body core.Body) error {
		doc, err := fromBody[T](name, body, r)
		if err != nil {
			return err
		}
		return fn(ctx, doc)
	})
}

func toBody(v any) (core.Body, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	var body core.Body
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to convert typed data to a document: %w", err)
	}
	return body, nil
}

func fromBody[T any](name string, body core.Body, saver Saver[T]) (*Document[T], error) {
	data, err := json.Marshal(body.WithoutMeta())
	if err != nil {
		return nil, fmt.Errorf("document marshal failed: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("unmarshal to target type failed: %w", err)
	}

	return &Document[T]{
		Name:  name,
		Data:  value,
		Meta:  body.Meta(),
		Saver: saver,
	}, nil
}
