package fs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/beacon/pkg/core"
)

func TestStore_HistoryCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < DefaultHistoryLimit+5; i++ {
		_, err := s.SaveValidated(ctx, "cfg", core.Body{"rev": i}, core.Schema{}, "")
		require.NoError(t, err)
	}

	all := s.History("cfg", 0)
	require.Len(t, all, DefaultHistoryLimit)
	assert.Equal(t, 5, all[0].Body["rev"], "oldest entries drop first")
	assert.Equal(t, DefaultHistoryLimit+4, all[len(all)-1].Body["rev"])

	seen := map[string]bool{}
	for _, e := range all {
		assert.False(t, seen[e.Version], "duplicate version %s", e.Version)
		seen[e.Version] = true
		assert.Len(t, e.Checksum, 32)
	}

	last3 := s.History("cfg", 3)
	require.Len(t, last3, 3)
	assert.Equal(t, all[len(all)-1].Version, last3[2].Version)
}

func TestStore_PlainSaveSkipsHistory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), "cfg", core.Body{"a": 1}, "")
	require.NoError(t, err)
	assert.Empty(t, s.History("cfg", 0))
}

func TestStore_SaveValidatedRejects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	schema := core.Schema{
		Required:   []string{"port"},
		Properties: map[string]core.Property{"port": {Type: "integer"}},
	}

	_, err := s.SaveValidated(ctx, "svc", core.Body{"host": "x"}, schema, "")
	assert.True(t, core.IsValidation(err))

	_, err = s.SaveValidated(ctx, "svc", core.Body{"port": "80"}, schema, "")
	assert.True(t, core.IsValidation(err))

	assert.Empty(t, s.History("svc", 0))
	_, err = s.Load(ctx, "svc", false)
	assert.ErrorIs(t, err, core.ErrNotFound, "nothing is written before validation passes")
}

func TestStore_DiffAndRestore(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, func(c *Config) { c.Now = fixedClock(start, time.Millisecond) })
	ctx := context.Background()

	_, err := s.SaveValidated(ctx, "cfg", core.Body{"a": 1, "b": 2, "c": 3}, core.Schema{}, "")
	require.NoError(t, err)
	_, err = s.SaveValidated(ctx, "cfg", core.Body{"a": 1, "b": 20, "d": 4}, core.Schema{}, "")
	require.NoError(t, err)

	h := s.History("cfg", 0)
	require.Len(t, h, 2)
	v1, v2 := h[0].Version, h[1].Version

	d, err := s.Diff("cfg", v1, v2)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"d": 4}, d.Added)
	assert.Equal(t, map[string]any{"c": 3}, d.Removed)
	assert.Equal(t, map[string]core.Change{"b": {Old: 2, New: 20}}, d.Modified)
	assert.Equal(t, map[string]any{"a": 1}, d.Unchanged)

	_, err = s.Diff("cfg", v1, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.Restore(ctx, "cfg", v1)
	require.NoError(t, err)
	body, err := s.Load(ctx, "cfg", false)
	require.NoError(t, err)
	assert.Equal(t, core.Body{"a": 1, "b": 2, "c": 3}, body.WithoutMeta())
	assert.Len(t, s.History("cfg", 0), 3)

	_, err = s.Restore(ctx, "cfg", "1999-01-01T00:00:00Z")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_HistoryVersionsUniqueUnderFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, func(c *Config) { c.Now = func() time.Time { return frozen } })

	for i := 0; i < 3; i++ {
		_, err := s.SaveValidated(context.Background(), "cfg", core.Body{"i": i}, core.Schema{}, "")
		require.NoError(t, err)
	}
	h := s.History("cfg", 0)
	versions := map[string]struct{}{}
	for _, e := range h {
		versions[e.Version] = struct{}{}
	}
	assert.Len(t, versions, 3, fmt.Sprint(h))
}

func TestChecksumIsKeyOrderIndependent(t *testing.T) {
	a, err := checksum(core.Body{"x": 1, "y": 2})
	require.NoError(t, err)
	b, err := checksum(core.Body{"y": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
