package platform

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/beacon/pkg/core"
)

// selfRegistration is the address the coordinator registers itself under.
type selfRegistration struct {
	host string
	port int
	meta core.Metadata
}

// options holds the internal configuration of a beacon System.
type options struct {
	logger        *slog.Logger
	defaultFormat core.Format
	mustExist     bool

	pollInterval time.Duration
	pollBackoff  time.Duration
	notify       bool
	historyLimit int

	cacheEntries int
	cacheBudget  int64
	metrics      prometheus.Registerer

	registryFile  string
	heartbeatTTL  time.Duration
	sweepInterval time.Duration

	eventBuffer int
	name        string
	self        *selfRegistration
	now         func() time.Time
}

// Option defines a functional option for configuring beacon.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		defaultFormat: core.FormatJSON,
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDefaultFormat selects the encoding used when a save names none.
func WithDefaultFormat(format core.Format) Option {
	return func(o *options) {
		o.defaultFormat = format
	}
}

// WithMustExist fails construction when the config directory is missing
// instead of creating it.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.mustExist = must
	}
}

// WithPollInterval sets the watcher period and the pause after a failed pass.
// Zero keeps the default for either value.
func WithPollInterval(interval, backoff time.Duration) Option {
	return func(o *options) {
		o.pollInterval = interval
		o.pollBackoff = backoff
	}
}

// WithNotify wakes the watcher on filesystem events between polls.
func WithNotify(enabled bool) Option {
	return func(o *options) {
		o.notify = enabled
	}
}

// WithHistoryLimit caps the per-document history. Zero keeps the default (50).
func WithHistoryLimit(limit int) Option {
	return func(o *options) {
		o.historyLimit = limit
	}
}

// WithCache bounds the document cache by entry count and estimated bytes.
// Zero keeps the default for either value.
func WithCache(entries int, budget int64) Option {
	return func(o *options) {
		o.cacheEntries = entries
		o.cacheBudget = budget
	}
}

// WithMetrics registers the cache counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metrics = reg
	}
}

// WithRegistryFile overrides the registry file location. It defaults to
// registry.json inside the SystemDir of the config directory.
func WithRegistryFile(path string) Option {
	return func(o *options) {
		o.registryFile = path
	}
}

// WithHeartbeatTTL sets the heartbeat age after which services are stale.
func WithHeartbeatTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.heartbeatTTL = ttl
	}
}

// WithSweep reaps stale services every interval in the background. Without it
// the TTL is only enforced by reads that request freshness.
func WithSweep(interval time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = interval
	}
}

// WithEventBuffer sets the capacity of the change event channel.
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// WithName sets the name the coordinator uses in the registry.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithSelfRegistration registers the coordinator as a service at startup.
// Later config writes then count as its heartbeats.
func WithSelfRegistration(host string, port int, meta core.Metadata) Option {
	return func(o *options) {
		o.self = &selfRegistration{host: host, port: port, meta: meta}
	}
}

// WithClock replaces the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
