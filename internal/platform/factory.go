// Package platform wires the config store, the service registry and the
// notifier into a Coordinator.
package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/aretw0/beacon/pkg/adapters/fs"
	"github.com/aretw0/beacon/pkg/core"
	"github.com/aretw0/beacon/pkg/notify"
	"github.com/aretw0/beacon/pkg/registry"
)

// RegistryFile is the registry file name inside SystemDir.
const RegistryFile = "registry.json"

// System holds the components built by New. Close releases them.
type System struct {
	*core.Coordinator

	Store    *fs.Store
	Registry *registry.Registry
	Notifier *notify.Manager

	logger *slog.Logger
}

// New builds a System over the config directory dir.
//
//	sys, err := platform.New("./configs", platform.WithPollInterval(time.Second, 0))
func New(dir string, opts ...Option) (*System, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	if o.mustExist {
		if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("config directory %s does not exist", abs)
		}
	}

	store, err := fs.NewStore(fs.Config{
		Path:          abs,
		DefaultFormat: o.defaultFormat,
		Logger:        o.logger.With("component", "config_store"),
		CacheEntries:  o.cacheEntries,
		CacheBudget:   o.cacheBudget,
		Metrics:       o.metrics,
		PollInterval:  o.pollInterval,
		PollBackoff:   o.pollBackoff,
		Notify:        o.notify,
		HistoryLimit:  o.historyLimit,
		Now:           o.now,
	})
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, SystemDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create system directory: %w", err)
	}

	registryFile := o.registryFile
	if registryFile == "" {
		registryFile = filepath.Join(abs, SystemDir, RegistryFile)
	}
	reg := registry.New(registry.Config{
		Path:   registryFile,
		TTL:    o.heartbeatTTL,
		Logger: o.logger.With("component", "service_registry"),
		Now:    o.now,
	})

	notifier := notify.NewManager(store, notify.Config{
		Logger:      o.logger.With("component", "subscription_manager"),
		EventBuffer: o.eventBuffer,
		Now:         o.now,
	})

	coord := core.NewCoordinator(store, reg, core.CoordinatorConfig{
		Name:     o.name,
		Notifier: notifier,
		Logger:   o.logger.With("component", "coordinator"),
		Now:      o.now,
	})

	sys := &System{
		Coordinator: coord,
		Store:       store,
		Registry:    reg,
		Notifier:    notifier,
		logger:      o.logger,
	}

	if o.sweepInterval > 0 {
		if err := reg.StartSweeper(ctx, o.sweepInterval); err != nil {
			return nil, err
		}
	}
	if o.self != nil {
		if err := coord.RegisterSelf(ctx, o.self.host, o.self.port, o.self.meta); err != nil {
			_ = sys.Close(ctx)
			return nil, err
		}
	}

	o.logger.Debug("beacon ready", "dir", abs, "registry", registryFile)
	return sys, nil
}

// Close stops the sweeper and the watcher, then closes the event channel.
func (s *System) Close(ctx context.Context) error {
	var errs error
	s.Registry.StopSweeper(ctx)
	multierr.AppendInto(&errs, s.Store.Close(ctx))
	s.Notifier.Close()
	return errs
}
