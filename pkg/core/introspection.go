package core

import (
	"github.com/aretw0/introspection"
)

// CoordinatorState exposes internal state for observability.
type CoordinatorState struct {
	Name         string `json:"name"`
	Registered   bool   `json:"registered"`
	StoreType    string `json:"store_type"`
	RegistryType string `json:"registry_type"`
	HasNotifier  bool   `json:"has_notifier"`
}

// State implements introspection.Introspectable.
func (c *Coordinator) State() any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CoordinatorState{
		Name:         c.name,
		Registered:   c.registered,
		StoreType:    componentType(c.store, "store"),
		RegistryType: componentType(c.registry, "registry"),
		HasNotifier:  c.notifier != nil,
	}
}

// ComponentType implements introspection.Component.
func (c *Coordinator) ComponentType() string {
	return "coordinator"
}

func componentType(v any, fallback string) string {
	if v == nil {
		return "none"
	}
	if comp, ok := v.(introspection.Component); ok {
		return comp.ComponentType()
	}
	return fallback
}

var _ introspection.Introspectable = (*Coordinator)(nil)
var _ introspection.Component = (*Coordinator)(nil)
