package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flowchartsman/retry"

	"github.com/aretw0/beacon/internal/fsutil"
	"github.com/aretw0/beacon/pkg/core"
)

// registryFile is the on-disk layout of the registry.
type registryFile struct {
	Services  map[string]core.ServiceRecord `json:"services"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

// load reads the registry file. A missing file is an empty registry.
func (r *Registry) load() (map[string]core.ServiceRecord, error) {
	services := make(map[string]core.ServiceRecord)

	data, err := os.ReadFile(r.config.Path)
	if errors.Is(err, os.ErrNotExist) {
		return services, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	for name, rec := range file.Services {
		if rec.Name == "" {
			rec.Name = name
		}
		if rec.Metadata == nil {
			rec.Metadata = core.Metadata{}
		}
		services[name] = rec
	}
	return services, nil
}

// persist rewrites the whole registry file atomically. Callers hold r.mu.
func (r *Registry) persist(ctx context.Context) error {
	data, err := json.MarshalIndent(registryFile{
		Services:  r.services,
		UpdatedAt: r.now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	retrier := retry.NewRetrier(r.config.WriteAttempts, 10*time.Millisecond, 200*time.Millisecond)
	err = retrier.RunContext(ctx, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(r.config.Path), 0755); err != nil {
			return fmt.Errorf("failed to create registry directory: %w", err)
		}
		return fsutil.WriteFileAtomic(r.config.Path, data, 0644)
	})
	if err != nil {
		r.logger.Error("registry write failed", "path", r.config.Path, "error", err)
		return fmt.Errorf("failed to persist registry: %w", err)
	}
	r.writes.Inc()
	return nil
}
