package registry

import (
	"github.com/aretw0/introspection"
)

// RegistryState exposes internal state for observability.
type RegistryState struct {
	Path          string         `json:"path"`
	TTL           string         `json:"ttl"`
	Services      int            `json:"services"`
	ByStatus      map[string]int `json:"by_status"`
	Writes        int64          `json:"writes"`
	Reaped        int64          `json:"reaped"`
	SweeperActive bool           `json:"sweeper_active"`
	SweeperRuns   int64          `json:"sweeper_runs"`
}

// State implements introspection.Introspectable.
func (r *Registry) State() any {
	r.mu.RLock()
	byStatus := make(map[string]int)
	for _, rec := range r.services {
		byStatus[string(rec.Status)]++
	}
	total := len(r.services)
	r.mu.RUnlock()

	return RegistryState{
		Path:          r.config.Path,
		TTL:           r.config.TTL.String(),
		Services:      total,
		ByStatus:      byStatus,
		Writes:        r.writes.Load(),
		Reaped:        r.reaped.Load(),
		SweeperActive: r.sweeper.started.Load(),
		SweeperRuns:   r.sweeper.runs.Load(),
	}
}

// ComponentType implements introspection.Component.
func (r *Registry) ComponentType() string {
	return "service_registry"
}

var _ introspection.Introspectable = (*Registry)(nil)
var _ introspection.Component = (*Registry)(nil)
