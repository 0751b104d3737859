package notify

import (
	"sort"

	"github.com/aretw0/introspection"
)

// ManagerState exposes internal state for observability.
type ManagerState struct {
	Subscriptions int      `json:"subscriptions"`
	Watched       []string `json:"watched"`
	Changes       int      `json:"changes"`
	Dropped       int64    `json:"dropped_events"`
	Closed        bool     `json:"closed"`
}

// State implements introspection.Introspectable.
func (m *Manager) State() any {
	watched := m.watched.ToSlice()
	sort.Strings(watched)

	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerState{
		Subscriptions: len(m.subs),
		Watched:       watched,
		Changes:       len(m.changelog),
		Dropped:       m.dropped.Load(),
		Closed:        m.closed,
	}
}

// ComponentType implements introspection.Component.
func (m *Manager) ComponentType() string {
	return "subscription_manager"
}

var _ introspection.Introspectable = (*Manager)(nil)
var _ introspection.Component = (*Manager)(nil)
