package core

import (
	"context"
	"time"
)

// WatchFunc is invoked with the freshly loaded body of a changed document.
// Returned errors are logged by the caller and never stop delivery to others.
type WatchFunc func(ctx context.Context, name string, body Body) error

// ConfigStore defines the contract for storing and retrieving named
// configuration documents. A zero Format selects the store default.
type ConfigStore interface {
	// Save persists a document, stamping its metadata, and returns its location.
	Save(ctx context.Context, name string, body Body, format Format) (string, error)

	// Load returns a copy of the named document. It fails with ErrNotFound
	// when no backing file exists.
	Load(ctx context.Context, name string, useCache bool) (Body, error)

	// Update shallow-merges updates into the stored document, optionally
	// snapshotting the previous body first.
	Update(ctx context.Context, name string, updates Body, backup bool) (string, error)

	// Delete removes the document and reports whether a file was removed.
	Delete(ctx context.Context, name string, backup bool) (bool, error)

	// List returns every stored document name, sorted.
	List(ctx context.Context) ([]string, error)

	// Match returns the stored names matching a glob pattern.
	Match(ctx context.Context, pattern string) ([]string, error)

	// Merge combines the named inputs into output. Missing inputs are skipped.
	Merge(ctx context.Context, names []string, output string, strategy MergeStrategy) (MergeResult, error)

	// Template saves a template document built from field specs.
	Template(ctx context.Context, name string, fields []FieldSpec) (string, error)
}

// Watchable defines the interface for stores that report document changes.
type Watchable interface {
	// Watch registers fn for changes to the named document. The document
	// must exist; duplicate registrations each receive the change.
	Watch(name string, fn WatchFunc) error

	// StopWatching removes every watcher registered for name.
	StopWatching(name string)

	// Watching reports whether any watcher is registered for name.
	Watching(name string) bool

	// StopAll removes all watchers and stops the background poller.
	StopAll()
}

// Versioned defines the history-aware save path.
type Versioned interface {
	SaveValidated(ctx context.Context, name string, body Body, schema Schema, format Format) (string, error)
	History(name string, limit int) []HistoryEntry
	Restore(ctx context.Context, name, version string) (string, error)
	Diff(name, v1, v2 string) (Diff, error)
}

// ServiceRegistry defines the contract for the heartbeat-based registry.
//
// Freshness is caller-requested: only Active, Summary and ReapStale evict
// records older than the TTL. Other reads may return stale entries.
type ServiceRegistry interface {
	Register(ctx context.Context, rec ServiceRecord) (ServiceRecord, error)
	Unregister(ctx context.Context, name string) (bool, error)
	Heartbeat(ctx context.Context, name string, patch Metadata) (bool, error)
	UpdateStatus(ctx context.Context, name string, status Status) (bool, error)
	ReapStale(ctx context.Context) (int, error)

	Get(name string) (ServiceRecord, error)
	All() []ServiceRecord
	Active(ctx context.Context) ([]ServiceRecord, error)
	ByType(serviceType string) []ServiceRecord
	FindFirst(serviceType string, status Status) (ServiceRecord, error)
	BuildURL(name, endpoint string) (string, error)
	Summary(ctx context.Context) (RegistrySummary, error)
	Health(name string) (ServiceHealth, error)
}

// ChangeQuery filters the change log. Zero values disable a filter.
type ChangeQuery struct {
	Name  string
	Since time.Time
	Limit int
}

// Notifier routes document changes to pattern-based subscriptions.
type Notifier interface {
	Subscribe(ctx context.Context, id string, patterns []string, fn WatchFunc) error
	Unsubscribe(id string) bool
	Changelog(q ChangeQuery) []ChangeEvent
}
