package fs

import (
	"sort"

	"github.com/aretw0/introspection"

	"github.com/aretw0/beacon/pkg/cache"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Path          string      `json:"path"`
	DefaultFormat string      `json:"default_format"`
	Serializers   []string    `json:"serializers"`
	Cache         cache.Stats `json:"cache"`
	Watchers      int         `json:"watchers"`
	PollerActive  bool        `json:"poller_active"`
	PollPasses    int64       `json:"poll_passes"`
	Notify        bool        `json:"notify"`
	History       int         `json:"history_names"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	serializers := make([]string, 0, len(s.serializers))
	for ext := range s.serializers {
		serializers = append(serializers, ext)
	}
	sort.Strings(serializers)

	s.watchMu.Lock()
	watchers := len(s.watchers)
	var passes int64
	active := s.poller != nil
	if active {
		passes = s.poller.passes.Load()
	}
	s.watchMu.Unlock()

	s.histMu.RLock()
	history := len(s.history)
	s.histMu.RUnlock()

	return StoreState{
		Path:          s.Path,
		DefaultFormat: string(s.config.DefaultFormat),
		Serializers:   serializers,
		Cache:         s.cache.Stats(),
		Watchers:      watchers,
		PollerActive:  active,
		PollPasses:    passes,
		Notify:        s.config.Notify,
		History:       history,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "config_store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
