package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/aretw0/beacon/pkg/core"
)

// SaveValidated checks body against schema, records it in the history and
// saves it. Nothing is recorded or written when validation fails.
func (s *Store) SaveValidated(ctx context.Context, name string, body core.Body, schema core.Schema, format core.Format) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := schema.Validate(body); err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.record(name, body); err != nil {
		return "", err
	}
	return s.save(ctx, name, body, format)
}

// record appends a snapshot of body to the history of name.
func (s *Store) record(name string, body core.Body) error {
	snapshot := core.CloneBody(body)
	if snapshot == nil {
		snapshot = core.Body{}
	}
	sum, err := checksum(snapshot)
	if err != nil {
		return fmt.Errorf("failed to checksum %q: %w", name, err)
	}

	s.histMu.Lock()
	defer s.histMu.Unlock()

	entries := s.history[name]
	ts := s.now()
	if n := len(entries); n > 0 && !ts.After(entries[n-1].Timestamp) {
		// Versions are looked up by exact match and must stay unique.
		ts = entries[n-1].Timestamp.Add(time.Nanosecond)
	}
	entries = append(entries, core.HistoryEntry{
		Timestamp: ts,
		Version:   ts.Format(time.RFC3339Nano),
		Body:      snapshot,
		Checksum:  sum,
	})
	if over := len(entries) - s.config.HistoryLimit; over > 0 {
		entries = append([]core.HistoryEntry(nil), entries[over:]...)
	}
	s.history[name] = entries
	return nil
}

// checksum is the md5 of the canonical JSON encoding (sorted keys).
func checksum(b core.Body) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// History returns up to limit of the most recent snapshots of name, oldest
// first. A non-positive limit returns all of them.
func (s *Store) History(name string, limit int) []core.HistoryEntry {
	s.histMu.RLock()
	defer s.histMu.RUnlock()

	entries := s.history[name]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]core.HistoryEntry, len(entries))
	for i, e := range entries {
		e.Body = core.CloneBody(e.Body)
		out[i] = e
	}
	return out
}

func (s *Store) snapshot(name, version string) (core.Body, bool) {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	for _, e := range s.history[name] {
		if e.Version == version {
			return core.CloneBody(e.Body), true
		}
	}
	return nil, false
}

// Restore saves the snapshot recorded under version as the current body.
// The restore is itself recorded in the history.
func (s *Store) Restore(ctx context.Context, name, version string) (string, error) {
	body, ok := s.snapshot(name, version)
	if !ok {
		return "", fmt.Errorf("version %s of %q: %w", version, name, core.ErrNotFound)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.record(name, body); err != nil {
		return "", err
	}
	return s.save(ctx, name, body, s.formatFor(name))
}

// Diff compares two history snapshots of name by exact version.
func (s *Store) Diff(name, v1, v2 string) (core.Diff, error) {
	a, ok := s.snapshot(name, v1)
	if !ok {
		return core.Diff{}, fmt.Errorf("version %s of %q: %w", v1, name, core.ErrNotFound)
	}
	b, ok := s.snapshot(name, v2)
	if !ok {
		return core.Diff{}, fmt.Errorf("version %s of %q: %w", v2, name, core.ErrNotFound)
	}
	return diffBodies(a, b), nil
}

func diffBodies(a, b core.Body) core.Diff {
	d := core.Diff{
		Added:     map[string]any{},
		Removed:   map[string]any{},
		Modified:  map[string]core.Change{},
		Unchanged: map[string]any{},
	}

	keys := mapset.NewSet[string]()
	for k := range a {
		keys.Add(k)
	}
	for k := range b {
		keys.Add(k)
	}

	for _, k := range keys.ToSlice() {
		av, inA := a[k]
		bv, inB := b[k]
		switch {
		case !inA:
			d.Added[k] = bv
		case !inB:
			d.Removed[k] = av
		case !reflect.DeepEqual(av, bv):
			d.Modified[k] = core.Change{Old: av, New: bv}
		default:
			d.Unchanged[k] = av
		}
	}
	return d
}
