// Package registry implements a heartbeat-based service registry persisted as a
// single JSON file.
//
// Freshness is caller-requested: records older than the TTL are evicted only by
// ReapStale and by the reads that call it first (Active and Summary), or by the
// optional sweeper started with StartSweeper.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/atomic"

	"github.com/aretw0/beacon/pkg/core"
)

const (
	// DefaultFile is the registry file name used when Config.Path is empty.
	DefaultFile = "service_registry.json"
	// DefaultTTL is the heartbeat age after which a record is stale.
	DefaultTTL = 300 * time.Second
	// WarningAge is the heartbeat age after which a record reports a warning.
	WarningAge = 120 * time.Second
	// DefaultScheme prefixes URLs built by BuildURL.
	DefaultScheme = "http"
	// DefaultVersion is stamped on records registered without a version.
	DefaultVersion = "1.0"
)

// Config holds the configuration for the registry.
type Config struct {
	// Path is the registry file.
	Path   string
	TTL    time.Duration
	Scheme string
	Logger *slog.Logger
	// WriteAttempts bounds the retries of a failed registry write.
	WriteAttempts int
	Now           func() time.Time
}

// Registry implements core.ServiceRegistry.
type Registry struct {
	config   Config
	logger   *slog.Logger
	validate *validator.Validate

	mu       sync.RWMutex
	services map[string]core.ServiceRecord

	writes  *atomic.Int64
	reaped  *atomic.Int64
	sweeper *sweeper
}

// New creates a registry and loads the registry file when present. An
// unreadable or corrupt file yields an empty registry and a warning.
func New(config Config) *Registry {
	if config.Path == "" {
		config.Path = DefaultFile
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Scheme == "" {
		config.Scheme = DefaultScheme
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.WriteAttempts <= 0 {
		config.WriteAttempts = 3
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	r := &Registry{
		config:   config,
		logger:   config.Logger,
		validate: newValidator(),
		services: make(map[string]core.ServiceRecord),
		writes:   atomic.NewInt64(0),
		reaped:   atomic.NewInt64(0),
	}
	r.sweeper = newSweeper(r)

	services, err := r.load()
	if err != nil {
		r.logger.Warn("registry file unreadable, starting empty", "path", config.Path, "error", err)
	} else {
		r.services = services
	}
	return r
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Path returns the registry file.
func (r *Registry) Path() string { return r.config.Path }

// TTL returns the heartbeat age after which records are stale.
func (r *Registry) TTL() time.Duration { return r.config.TTL }

func (r *Registry) now() time.Time { return r.config.Now() }

func (r *Registry) check(rec core.ServiceRecord) error {
	err := r.validate.Struct(rec)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		return &core.ValidationError{
			Field:  fe.Field(),
			Reason: fmt.Sprintf("failed %q check", fe.Tag()),
		}
	}
	return &core.ValidationError{Field: "record", Reason: err.Error()}
}

// Register stores rec under its name, replacing any previous record. The
// record becomes active with fresh registration and heartbeat times.
func (r *Registry) Register(ctx context.Context, rec core.ServiceRecord) (core.ServiceRecord, error) {
	now := r.now()
	rec = rec.Clone()
	rec.Status = core.StatusActive
	rec.RegisteredAt = now
	rec.LastHeartbeat = now
	if rec.Version == "" {
		rec.Version = DefaultVersion
	}
	if rec.Metadata == nil {
		rec.Metadata = core.Metadata{}
	}
	if err := r.check(rec); err != nil {
		return core.ServiceRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.apply(ctx, rec.Name, &rec); err != nil {
		return core.ServiceRecord{}, err
	}
	r.logger.Debug("service registered", "name", rec.Name, "type", rec.ServiceType)
	return rec.Clone(), nil
}

// Unregister removes name and reports whether it was present.
func (r *Registry) Unregister(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[name]; !ok {
		return false, nil
	}
	if err := r.apply(ctx, name, nil); err != nil {
		return false, err
	}
	r.logger.Debug("service unregistered", "name", name)
	return true, nil
}

// Heartbeat refreshes the heartbeat of name and shallow-merges patch into its
// metadata. Unknown names report false.
func (r *Registry) Heartbeat(ctx context.Context, name string, patch core.Metadata) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.services[name]
	if !ok {
		return false, nil
	}
	rec.LastHeartbeat = r.now()
	if len(patch) > 0 {
		meta := core.Metadata(core.CloneMap(rec.Metadata))
		if meta == nil {
			meta = core.Metadata{}
		}
		for k, v := range patch {
			meta[k] = core.CloneValue(v)
		}
		rec.Metadata = meta
	}
	if err := r.apply(ctx, name, &rec); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStatus sets the status of name and refreshes its heartbeat.
func (r *Registry) UpdateStatus(ctx context.Context, name string, status core.Status) (bool, error) {
	if _, err := core.ParseStatus(string(status)); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.services[name]
	if !ok {
		return false, nil
	}
	rec.Status = status
	rec.LastHeartbeat = r.now()
	if err := r.apply(ctx, name, &rec); err != nil {
		return false, err
	}
	return true, nil
}

// apply stores rec under name, or removes name when rec is nil, and
// persists. A failed write restores the previous entry. Callers hold r.mu.
func (r *Registry) apply(ctx context.Context, name string, rec *core.ServiceRecord) error {
	prev, had := r.services[name]
	if rec == nil {
		delete(r.services, name)
	} else {
		r.services[name] = *rec
	}
	if err := r.persist(ctx); err != nil {
		if had {
			r.services[name] = prev
		} else {
			delete(r.services, name)
		}
		return err
	}
	return nil
}

// ReapStale removes every record whose heartbeat is older than the TTL and
// returns how many were removed. Records that never sent a heartbeat are
// kept. The file is rewritten only on removal.
func (r *Registry) ReapStale(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reapLocked(ctx)
}

func (r *Registry) reapLocked(ctx context.Context) (int, error) {
	now := r.now()
	var stale []string
	for name, rec := range r.services {
		// Records without a heartbeat are never considered stale.
		if rec.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > r.config.TTL {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	sort.Strings(stale)
	for _, name := range stale {
		delete(r.services, name)
	}
	r.reaped.Add(int64(len(stale)))
	r.logger.Info("reaped stale services", "count", len(stale), "names", stale)
	return len(stale), r.persist(ctx)
}

// Get returns the record of name without enforcing the TTL.
func (r *Registry) Get(name string) (core.ServiceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.services[name]
	if !ok {
		return core.ServiceRecord{}, fmt.Errorf("service %q: %w", name, core.ErrNotFound)
	}
	return rec.Clone(), nil
}

// All returns every record sorted by name, stale ones included.
func (r *Registry) All() []core.ServiceRecord {
	return r.filter(func(core.ServiceRecord) bool { return true })
}

// Active reaps stale records, then returns the active ones.
func (r *Registry) Active(ctx context.Context) ([]core.ServiceRecord, error) {
	if _, err := r.ReapStale(ctx); err != nil {
		return nil, err
	}
	return r.filter(func(rec core.ServiceRecord) bool {
		return rec.Status == core.StatusActive
	}), nil
}

// ByType returns the records of the given service type.
func (r *Registry) ByType(serviceType string) []core.ServiceRecord {
	return r.filter(func(rec core.ServiceRecord) bool {
		return rec.ServiceType == serviceType
	})
}

// FindFirst returns the first record of serviceType with the given status.
// An empty status means active.
func (r *Registry) FindFirst(serviceType string, status core.Status) (core.ServiceRecord, error) {
	if status == "" {
		status = core.StatusActive
	}
	matches := r.filter(func(rec core.ServiceRecord) bool {
		return rec.ServiceType == serviceType && rec.Status == status
	})
	if len(matches) == 0 {
		return core.ServiceRecord{}, fmt.Errorf("no %s service of type %q: %w", status, serviceType, core.ErrNotFound)
	}
	return matches[0], nil
}

func (r *Registry) filter(keep func(core.ServiceRecord) bool) []core.ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]core.ServiceRecord, 0, len(names))
	for _, name := range names {
		if rec := r.services[name]; keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// BuildURL composes scheme://host:port and appends endpoint with exactly one
// leading slash.
func (r *Registry) BuildURL(name, endpoint string) (string, error) {
	rec, err := r.Get(name)
	if err != nil {
		return "", err
	}
	base := r.config.Scheme + "://" + net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port))
	if endpoint == "" {
		return base, nil
	}
	return base + "/" + strings.TrimLeft(endpoint, "/"), nil
}

// Summary reaps stale records, then counts the remaining ones.
func (r *Registry) Summary(ctx context.Context) (core.RegistrySummary, error) {
	if _, err := r.ReapStale(ctx); err != nil {
		return core.RegistrySummary{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := core.RegistrySummary{
		Total:       len(r.services),
		ByType:      make(map[string]int),
		LastUpdated: r.now(),
	}
	for _, rec := range r.services {
		if rec.Status == core.StatusActive {
			summary.Active++
		}
		summary.ByType[rec.ServiceType]++
	}
	return summary, nil
}

// Health grades name by heartbeat age: healthy up to WarningAge, warning up to
// the TTL, unhealthy beyond.
func (r *Registry) Health(name string) (core.ServiceHealth, error) {
	rec, err := r.Get(name)
	if err != nil {
		return core.ServiceHealth{}, err
	}
	now := r.now()
	age := now.Sub(rec.LastHeartbeat)

	state := core.HealthHealthy
	switch {
	case age > r.config.TTL:
		state = core.HealthUnhealthy
	case age > WarningAge:
		state = core.HealthWarning
	}

	return core.ServiceHealth{
		Name:         rec.Name,
		State:        state,
		Uptime:       now.Sub(rec.RegisteredAt),
		HeartbeatAge: age,
		Record:       rec,
		CheckedAt:    now,
	}, nil
}

var _ core.ServiceRegistry = (*Registry)(nil)
