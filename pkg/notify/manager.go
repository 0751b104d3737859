// Package notify routes document changes to pattern-based subscriptions and
// keeps a change log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/aretw0/beacon/pkg/core"
)

// DefaultEventBuffer is the capacity of the Events channel.
const DefaultEventBuffer = 64

// Store is the part of the config store the manager depends on.
type Store interface {
	core.Watchable
	List(ctx context.Context) ([]string, error)
}

// Config holds the configuration for the manager.
type Config struct {
	Logger      *slog.Logger
	EventBuffer int
	Now         func() time.Time
}

// Subscription is a registered interest in documents matching Patterns.
type Subscription struct {
	ID           string         `json:"id"`
	Patterns     []string       `json:"patterns"`
	Callback     core.WatchFunc `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	LastNotified time.Time      `json:"last_notified,omitempty"`
}

// Matches reports whether name matches any of the subscription patterns.
func (s *Subscription) Matches(name string) bool {
	for _, p := range s.Patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Manager implements core.Notifier over a watchable store.
type Manager struct {
	store  Store
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	subs      map[string]*Subscription
	changelog []core.ChangeEvent
	events    chan core.ChangeEvent
	closed    bool

	// attachMu serializes watch registration so a name is attached once.
	attachMu sync.Mutex
	// watched holds the document names the manager registered with the store.
	// The store may drop them (StopWatching, StopAll); Subscribe re-attaches.
	watched mapset.Set[string]
	dropped *atomic.Int64
}

// NewManager creates a manager over store.
func NewManager(store Store, config Config) *Manager {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Manager{
		store:   store,
		config:  config,
		logger:  config.Logger,
		subs:    make(map[string]*Subscription),
		events:  make(chan core.ChangeEvent, config.EventBuffer),
		watched: mapset.NewSet[string](),
		dropped: atomic.NewInt64(0),
	}
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// Subscribe stores the subscription under id, replacing any previous one, and
// watches every document its patterns resolve to. Glob patterns are expanded
// against the documents that exist now; documents that do not exist are
// skipped and will not fire until a later Subscribe resolves them.
func (m *Manager) Subscribe(ctx context.Context, id string, patterns []string, fn core.WatchFunc) error {
	if id == "" {
		return &core.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if fn == nil {
		return &core.ValidationError{Field: "callback", Reason: "must not be nil"}
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return &core.ValidationError{Field: "patterns", Reason: fmt.Sprintf("%q: %v", p, doublestar.ErrBadPattern)}
		}
	}

	m.mu.Lock()
	m.subs[id] = &Subscription{
		ID:        id,
		Patterns:  append([]string(nil), patterns...),
		Callback:  fn,
		CreatedAt: m.config.Now(),
	}
	m.mu.Unlock()

	names, err := m.resolve(ctx, patterns)
	if err != nil {
		return err
	}

	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	var errs error
	for _, name := range names.ToSlice() {
		if m.watched.Contains(name) && m.store.Watching(name) {
			continue
		}
		err := m.store.Watch(name, m.handleChange)
		if err == nil {
			m.watched.Add(name)
			continue
		}
		m.watched.Remove(name)
		if errors.Is(err, core.ErrNotFound) {
			m.logger.Debug("subscription target missing, skipped", "subscriber", id, "name", name)
			continue
		}
		multierr.AppendInto(&errs, fmt.Errorf("watch %q: %w", name, err))
	}
	m.logger.Debug("subscribed", "subscriber", id, "patterns", patterns)
	return errs
}

// resolve expands glob patterns against the stored documents. Literal
// patterns are used as is.
func (m *Manager) resolve(ctx context.Context, patterns []string) (mapset.Set[string], error) {
	names := mapset.NewThreadUnsafeSet[string]()
	var stored []string
	listed := false

	for _, p := range patterns {
		if !isGlob(p) {
			names.Add(p)
			continue
		}
		if !listed {
			var err error
			if stored, err = m.store.List(ctx); err != nil {
				return nil, fmt.Errorf("failed to list configs: %w", err)
			}
			listed = true
		}
		for _, name := range stored {
			if ok, _ := doublestar.Match(p, name); ok {
				names.Add(name)
			}
		}
	}
	return names, nil
}

// Unsubscribe removes the subscription and reports whether it existed. Store
// watches stay registered; changes then fan out to the remaining subscribers.
func (m *Manager) Unsubscribe(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[id]; !ok {
		return false
	}
	delete(m.subs, id)
	return true
}

// Subscriptions returns a copy of every subscription, sorted by id.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		cp := *sub
		cp.Patterns = append([]string(nil), sub.Patterns...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// handleChange is the store callback for every watched document.
func (m *Manager) handleChange(ctx context.Context, name string, body core.Body) error {
	event := core.ChangeEvent{
		ID:        uuid.NewString(),
		Name:      name,
		ChangedAt: m.config.Now(),
		Type:      core.EventModified,
	}

	m.mu.Lock()
	m.changelog = append(m.changelog, event)
	var targets []*Subscription
	for _, sub := range m.subs {
		if sub.Matches(name) {
			targets = append(targets, sub)
		}
	}
	m.publishLocked(event)
	m.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	for _, sub := range targets {
		if err := m.deliver(ctx, sub, name, core.CloneBody(body)); err != nil {
			m.logger.Warn("subscriber callback failed", "subscriber", sub.ID, "name", name, "error", err)
		}
		m.mu.Lock()
		sub.LastNotified = m.config.Now()
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) deliver(ctx context.Context, sub *Subscription, name string, body core.Body) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("callback panic: %v", recovered)
		}
	}()
	return sub.Callback(ctx, name, body)
}

// publishLocked hands event to the Events channel without blocking. Callers
// hold m.mu.
func (m *Manager) publishLocked(event core.ChangeEvent) {
	if m.closed {
		return
	}
	select {
	case m.events <- event:
	default:
		m.dropped.Inc()
	}
}

// Events returns the channel of change events. Events are dropped when the
// channel is full. The channel is closed by Close.
func (m *Manager) Events() <-chan core.ChangeEvent {
	return m.events
}

// Close closes the Events channel. Later changes are still logged.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.events)
}

// Changelog returns matching change events, newest first.
func (m *Manager) Changelog(q core.ChangeQuery) []core.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]core.ChangeEvent, 0)
	for i := len(m.changelog) - 1; i >= 0; i-- {
		e := m.changelog[i]
		if q.Name != "" && e.Name != q.Name {
			continue
		}
		if !q.Since.IsZero() && !e.ChangedAt.After(q.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

var _ core.Notifier = (*Manager)(nil)
