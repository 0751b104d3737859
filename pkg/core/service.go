package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	// GlobalConfigName is the document read by GlobalConfig.
	GlobalConfigName = "global"
	// ServiceConfigPrefix prefixes per-service documents.
	ServiceConfigPrefix = "service_"

	templatePrefix       = "template_"
	environmentPrefix    = "environment_"
	backupBundlePrefix   = "backup_"
	defaultCoordinatorID = "config-coordination"
)

// DefaultGlobalConfig is returned by GlobalConfig while no global document exists.
func DefaultGlobalConfig() Body {
	return Body{
		"system": map[string]any{
			"name":        "Data Processor System",
			"version":     DocumentVersion,
			"environment": "development",
		},
		"logging": map[string]any{
			"level":  "INFO",
			"format": "text",
		},
		"coordination": map[string]any{
			"heartbeat_interval": 60,
			"cleanup_interval":   300,
		},
	}
}

// CoordinatorConfig holds the optional collaborators of a Coordinator.
type CoordinatorConfig struct {
	// Name identifies the coordinator when it registers itself.
	Name     string
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Coordinator composes a config store, a service registry and an optional
// notifier. It holds no process-wide state; every handle is injected.
type Coordinator struct {
	store    ConfigStore
	registry ServiceRegistry
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	name     string

	mu         sync.RWMutex
	startedAt  time.Time
	registered bool
}

// NewCoordinator creates a Coordinator over the given store and registry.
func NewCoordinator(store ConfigStore, registry ServiceRegistry, cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = defaultCoordinatorID
	}
	return &Coordinator{
		store:     store,
		registry:  registry,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		now:       cfg.Now,
		name:      cfg.Name,
		startedAt: cfg.Now(),
	}
}

// Store returns the underlying config store.
func (c *Coordinator) Store() ConfigStore { return c.store }

// Registry returns the underlying service registry.
func (c *Coordinator) Registry() ServiceRegistry { return c.registry }

// Notifier returns the notifier, or nil when none was configured.
func (c *Coordinator) Notifier() Notifier { return c.notifier }

// Name returns the identity used for self-registration.
func (c *Coordinator) Name() string { return c.name }

// RegisterSelf registers the coordinator in its own registry. Later config
// writes are recorded as heartbeats against that record.
func (c *Coordinator) RegisterSelf(ctx context.Context, host string, port int, meta Metadata) error {
	rec := ServiceRecord{
		Name:           c.name,
		Host:           host,
		Port:           port,
		ServiceType:    "config",
		Version:        DocumentVersion,
		HealthEndpoint: "/health",
		Metadata: Metadata{
			"capabilities": []any{"config_management", "service_registry", "coordination"},
		},
	}
	for k, v := range meta {
		rec.Metadata[k] = v
	}
	if _, err := c.registry.Register(ctx, rec); err != nil {
		return fmt.Errorf("register coordinator: %w", err)
	}
	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) touch(ctx context.Context, action, name string) {
	c.mu.RLock()
	registered := c.registered
	c.mu.RUnlock()
	if !registered {
		return
	}
	patch := Metadata{
		"last_action": action,
		"config_name": name,
		"timestamp":   c.now().Format(time.RFC3339),
	}
	if _, err := c.registry.Heartbeat(ctx, c.name, patch); err != nil {
		c.logger.Warn("coordinator heartbeat failed", "error", err)
	}
}

// SaveConfig persists a document.
func (c *Coordinator) SaveConfig(ctx context.Context, name string, body Body, format Format) (string, error) {
	loc, err := c.store.Save(ctx, name, body, format)
	if err != nil {
		return "", err
	}
	c.touch(ctx, "save_config", name)
	return loc, nil
}

// LoadConfig returns a copy of the named document.
func (c *Coordinator) LoadConfig(ctx context.Context, name string) (Body, error) {
	return c.store.Load(ctx, name, true)
}

// UpdateConfig shallow-merges updates into the named document.
func (c *Coordinator) UpdateConfig(ctx context.Context, name string, updates Body, backup bool) (string, error) {
	loc, err := c.store.Update(ctx, name, updates, backup)
	if err != nil {
		return "", err
	}
	if svc, ok := strings.CutPrefix(name, ServiceConfigPrefix); ok {
		if _, err := c.registry.Get(svc); err == nil {
			keys := make([]string, 0, len(updates))
			for k := range updates {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			c.logger.Info("service config updated", "service", svc, "keys", keys)
		}
	}
	return loc, nil
}

// DeleteConfig removes the named document.
func (c *Coordinator) DeleteConfig(ctx context.Context, name string, backup bool) (bool, error) {
	return c.store.Delete(ctx, name, backup)
}

// ListConfigs returns every stored document name.
func (c *Coordinator) ListConfigs(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

// GlobalConfig returns the global document, or DefaultGlobalConfig when
// none has been saved. Other load failures are returned.
func (c *Coordinator) GlobalConfig(ctx context.Context) (Body, error) {
	body, err := c.store.Load(ctx, GlobalConfigName, true)
	if errors.Is(err, ErrNotFound) {
		return DefaultGlobalConfig(), nil
	}
	return body, err
}

// SetGlobalConfig replaces the global document.
func (c *Coordinator) SetGlobalConfig(ctx context.Context, body Body) (string, error) {
	return c.SaveConfig(ctx, GlobalConfigName, body, "")
}

// ServiceConfig loads the per-service document.
func (c *Coordinator) ServiceConfig(ctx context.Context, service string) (Body, error) {
	return c.store.Load(ctx, ServiceConfigPrefix+service, true)
}

// SetServiceConfig replaces the per-service document.
func (c *Coordinator) SetServiceConfig(ctx context.Context, service string, body Body) (string, error) {
	return c.SaveConfig(ctx, ServiceConfigPrefix+service, body, "")
}

// Registration reports the outcome of RegisterWithConfig.
type Registration struct {
	Record     ServiceRecord `json:"service"`
	ConfigPath string        `json:"config_path"`
	Template   string        `json:"template_used"`
}

// RegisterWithConfig registers rec and seeds its service document from the
// named template. The registration stands even when the template is missing.
func (c *Coordinator) RegisterWithConfig(ctx context.Context, rec ServiceRecord, template string) (Registration, error) {
	stored, err := c.registry.Register(ctx, rec)
	if err != nil {
		return Registration{}, err
	}
	res := Registration{Record: stored, Template: template}

	tpl, err := c.store.Load(ctx, templatePrefix+template, true)
	if err != nil {
		return res, fmt.Errorf("load template %q: %w", template, err)
	}
	body := tpl.WithoutMeta()
	delete(body, "_template")
	delete(body, "_template_info")
	body["service_name"] = stored.Name
	body["service_type"] = stored.ServiceType
	body["host"] = stored.Host
	body["port"] = stored.Port
	body["configured_at"] = c.now().Format(time.RFC3339)

	loc, err := c.SaveConfig(ctx, ServiceConfigPrefix+stored.Name, body, "")
	if err != nil {
		return res, fmt.Errorf("save service config: %w", err)
	}
	res.ConfigPath = loc
	return res, nil
}

// ServiceReport extends ServiceHealth with the service document.
type ServiceReport struct {
	ServiceHealth
	Configuration Body `json:"configuration"`
}

// ServiceHealth grades a service and attaches its config, if any.
func (c *Coordinator) ServiceHealth(ctx context.Context, name string) (ServiceReport, error) {
	h, err := c.registry.Health(name)
	if err != nil {
		return ServiceReport{}, err
	}
	cfg, err := c.ServiceConfig(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return ServiceReport{}, err
		}
		cfg = Body{}
	}
	return ServiceReport{ServiceHealth: h, Configuration: cfg}, nil
}

// CreateEnvironment deep-merges the base documents into env_<name>_merged and
// records an environment_<name> document pointing at it.
func (c *Coordinator) CreateEnvironment(ctx context.Context, env string, bases []string) (string, error) {
	merged := "env_" + env + "_merged"
	if _, err := c.store.Merge(ctx, bases, merged, MergeDeep); err != nil {
		return "", fmt.Errorf("merge environment %q: %w", env, err)
	}
	baseList := make([]any, len(bases))
	for i, b := range bases {
		baseList[i] = b
	}
	body := Body{
		"environment_name":    env,
		"created_at":          c.now().Format(time.RFC3339),
		"base_configurations": baseList,
		"overrides":           map[string]any{},
		"active":              true,
		"merged_config":       merged,
	}
	return c.store.Save(ctx, environmentPrefix+env, body, "")
}

// ApplyOverride sets one override key on an existing environment.
func (c *Coordinator) ApplyOverride(ctx context.Context, env, key string, value any) (string, error) {
	body, err := c.store.Load(ctx, environmentPrefix+env, true)
	if err != nil {
		return "", err
	}
	overrides, ok := asMap(body["overrides"])
	if !ok {
		overrides = map[string]any{}
	}
	overrides[key] = value
	body["overrides"] = overrides
	body["last_modified"] = c.now().Format(time.RFC3339)
	return c.store.Save(ctx, environmentPrefix+env, body, "")
}

// CreateBackup bundles the documents matching patterns (all when empty) plus
// the registry into backup_<name>. Unreadable documents are recorded in the
// bundle with their error and reported through the returned error.
func (c *Coordinator) CreateBackup(ctx context.Context, name string, patterns []string) (string, error) {
	names, err := c.selectNames(ctx, patterns)
	if err != nil {
		return "", err
	}

	var errs error
	configs := make(map[string]any, len(names))
	for _, n := range names {
		body, err := c.store.Load(ctx, n, true)
		if err != nil {
			configs[n] = map[string]any{BackupErrorKey: err.Error()}
			multierr.AppendInto(&errs, fmt.Errorf("%s: %w", n, err))
			continue
		}
		configs[n] = map[string]any(body)
	}

	bundle := Body{
		"backup_name":      name,
		"created_at":       c.now().Format(time.RFC3339),
		"configurations":   configs,
		"service_registry": c.registrySnapshot(),
	}
	loc, err := c.store.Save(ctx, backupBundlePrefix+name, bundle, FormatJSON)
	if err != nil {
		return "", multierr.Append(errs, err)
	}
	return loc, errs
}

func (c *Coordinator) selectNames(ctx context.Context, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return c.store.List(ctx)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		matched, err := c.store.Match(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, n := range matched {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Coordinator) registrySnapshot() map[string]any {
	out := make(map[string]any)
	for _, rec := range c.registry.All() {
		out[rec.Name] = rec
	}
	return out
}

// BackupErrorKey marks a bundle entry whose document could not be read when
// the backup was taken. Such entries are reported, not restored.
const BackupErrorKey = "_backup_error"

// RestoreResult reports which documents a restore wrote.
type RestoreResult struct {
	Backup     string    `json:"backup_name"`
	Restored   []string  `json:"restored_configs"`
	Errors     []string  `json:"errors"`
	RestoredAt time.Time `json:"restored_at"`
}

// RestoreBackup writes the documents held by backup_<name> back to the store.
// When only is non-empty, other documents are skipped. Per-document failures
// are collected and the remaining documents are still restored.
func (c *Coordinator) RestoreBackup(ctx context.Context, name string, only []string) (RestoreResult, error) {
	bundle, err := c.store.Load(ctx, backupBundlePrefix+name, false)
	if err != nil {
		return RestoreResult{}, err
	}
	configs, _ := asMap(bundle["configurations"])

	want := make(map[string]struct{}, len(only))
	for _, n := range only {
		want[n] = struct{}{}
	}

	names := make([]string, 0, len(configs))
	for n := range configs {
		names = append(names, n)
	}
	sort.Strings(names)

	res := RestoreResult{Backup: name, Restored: []string{}, Errors: []string{}}
	for _, n := range names {
		if len(want) > 0 {
			if _, ok := want[n]; !ok {
				continue
			}
		}
		body, ok := asMap(configs[n])
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: not a document", n))
			continue
		}
		if msg, failed := body[BackupErrorKey]; failed {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", n, msg))
			continue
		}
		if _, err := c.store.Save(ctx, n, Body(body), ""); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", n, err))
			continue
		}
		res.Restored = append(res.Restored, n)
	}
	res.RestoredAt = c.now()
	return res, nil
}

// CoordinatorStatus describes the coordinator process itself.
type CoordinatorStatus struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Uptime    time.Duration `json:"uptime"`
	StartedAt time.Time     `json:"start_time"`
}

// ConfigSummary lists the stored documents.
type ConfigSummary struct {
	Total int      `json:"total_configs"`
	Names []string `json:"config_names"`
}

// SystemStatus is the combined status report.
type SystemStatus struct {
	Coordinator  CoordinatorStatus `json:"config_service"`
	Configs      ConfigSummary     `json:"configurations"`
	Registry     RegistrySummary   `json:"service_registry"`
	StaleRemoved int               `json:"stale_services_removed"`
	Timestamp    time.Time         `json:"timestamp"`
}

// SystemStatus reaps stale services and reports on every component.
func (c *Coordinator) SystemStatus(ctx context.Context) (SystemStatus, error) {
	removed, err := c.registry.ReapStale(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	summary, err := c.registry.Summary(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	names, err := c.store.List(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	now := c.now()
	return SystemStatus{
		Coordinator: CoordinatorStatus{
			Name:      c.name,
			Status:    string(StatusActive),
			Uptime:    now.Sub(c.startedAt),
			StartedAt: c.startedAt,
		},
		Configs:      ConfigSummary{Total: len(names), Names: names},
		Registry:     summary,
		StaleRemoved: removed,
		Timestamp:    now,
	}, nil
}

// SystemState is the export format of ExportSystemState.
type SystemState struct {
	Configurations map[string]any           `json:"configurations"`
	Registry       map[string]ServiceRecord `json:"service_registry"`
	Status         SystemStatus             `json:"system_status"`
	ExportedAt     time.Time                `json:"export_timestamp"`
}

// ExportSystemState writes every document, the registry and the current
// status to w as indented JSON. Unreadable documents are exported as an
// error entry.
func (c *Coordinator) ExportSystemState(ctx context.Context, w io.Writer) error {
	status, err := c.SystemStatus(ctx)
	if err != nil {
		return err
	}
	state := SystemState{
		Configurations: make(map[string]any, len(status.Configs.Names)),
		Registry:       make(map[string]ServiceRecord),
		Status:         status,
		ExportedAt:     c.now(),
	}
	for _, rec := range c.registry.All() {
		state.Registry[rec.Name] = rec
	}
	for _, n := range status.Configs.Names {
		body, err := c.store.Load(ctx, n, true)
		if err != nil {
			state.Configurations[n] = map[string]any{"error": err.Error()}
			continue
		}
		state.Configurations[n] = body
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

// HealthReport is the liveness answer of the coordinator.
type HealthReport struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     time.Duration     `json:"uptime"`
	Components map[string]string `json:"components"`
}

// HealthCheck reports the coordinator and its components as healthy.
func (c *Coordinator) HealthCheck() HealthReport {
	now := c.now()
	components := map[string]string{
		"config_store":     "healthy",
		"service_registry": "healthy",
	}
	if c.notifier != nil {
		components["notifier"] = "healthy"
	}
	return HealthReport{
		Status:     "healthy",
		Service:    c.name,
		Timestamp:  now,
		Uptime:     now.Sub(c.startedAt),
		Components: components,
	}
}

// Subscribe forwards to the configured notifier.
func (c *Coordinator) Subscribe(ctx context.Context, id string, patterns []string, fn WatchFunc) error {
	if c.notifier == nil {
		return errors.New("coordinator has no notifier")
	}
	return c.notifier.Subscribe(ctx, id, patterns, fn)
}

// Changelog forwards to the configured notifier.
func (c *Coordinator) Changelog(q ChangeQuery) []ChangeEvent {
	if c.notifier == nil {
		return nil
	}
	return c.notifier.Changelog(q)
}
