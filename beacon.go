package beacon

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/beacon/internal/platform"
	"github.com/aretw0/beacon/pkg/core"
	"github.com/aretw0/beacon/pkg/typed"
)

// --- Types ---

// System bundles the store, the registry, the notifier and their Coordinator.
type System = platform.System

// Body is the content of a configuration document.
type Body = core.Body

// Metadata is a free-form key-value map.
type Metadata = core.Metadata

// ServiceRecord is a registered service.
type ServiceRecord = core.ServiceRecord

// Document is a typed view of a configuration document.
type Document[T any] = typed.Document[T]

// TypedRepository gives typed access to configuration documents.
type TypedRepository[T any] = typed.Repository[T]

// NewTyped creates a typed repository over the store of sys.
func NewTyped[T any](sys *System, format core.Format) *TypedRepository[T] {
	return typed.NewRepository[T](sys.Store, format)
}

// --- Configuration ---

// Option defines a functional option for configuring beacon.
type Option = platform.Option

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithDefaultFormat selects the encoding used when a save names none.
func WithDefaultFormat(format core.Format) Option {
	return platform.WithDefaultFormat(format)
}

// WithMustExist fails construction when the config directory is missing.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithPollInterval sets the watcher period and the pause after a failed pass.
func WithPollInterval(interval, backoff time.Duration) Option {
	return platform.WithPollInterval(interval, backoff)
}

// WithNotify wakes the watcher on filesystem events between polls.
func WithNotify(enabled bool) Option {
	return platform.WithNotify(enabled)
}

// WithHistoryLimit caps the per-document history.
func WithHistoryLimit(limit int) Option {
	return platform.WithHistoryLimit(limit)
}

// WithCache bounds the document cache.
func WithCache(entries int, budget int64) Option {
	return platform.WithCache(entries, budget)
}

// WithMetrics registers the cache counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return platform.WithMetrics(reg)
}

// WithRegistryFile overrides the registry file location.
func WithRegistryFile(path string) Option {
	return platform.WithRegistryFile(path)
}

// WithHeartbeatTTL sets the heartbeat age after which services are stale.
func WithHeartbeatTTL(ttl time.Duration) Option {
	return platform.WithHeartbeatTTL(ttl)
}

// WithSweep reaps stale services every interval in the background.
func WithSweep(interval time.Duration) Option {
	return platform.WithSweep(interval)
}

// WithEventBuffer sets the capacity of the change event channel.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithName sets the name the coordinator uses in the registry.
func WithName(name string) Option {
	return platform.WithName(name)
}

// WithSelfRegistration registers the coordinator as a service at startup.
func WithSelfRegistration(host string, port int, meta Metadata) Option {
	return platform.WithSelfRegistration(host, port, meta)
}

// WithClock replaces the time source of every component.
func WithClock(now func() time.Time) Option {
	return platform.WithClock(now)
}

// --- Factory ---

// New builds a System over the config directory dir, creating it if needed.
func New(dir string, opts ...Option) (*System, error) {
	return platform.New(dir, opts...)
}

// FindRoot walks upwards from dir to the nearest beacon config directory.
func FindRoot(dir string) (string, error) {
	return platform.FindRoot(dir)
}
