package registry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/beacon/pkg/core"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, clk *clock) *Registry {
	t.Helper()
	return New(Config{
		Path:   filepath.Join(t.TempDir(), DefaultFile),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    clk.Now,
	})
}

func apiRecord(name string) core.ServiceRecord {
	return core.ServiceRecord{
		Name:        name,
		Host:        "10.0.0.5",
		Port:        8080,
		ServiceType: "api",
		Metadata:    core.Metadata{"zone": "a"},
	}
}

func TestRegistry_RegisterPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	r := newTestRegistry(t, clk)

	rec, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, rec.Status)
	assert.Equal(t, DefaultVersion, rec.Version)
	assert.Equal(t, clk.Now(), rec.RegisteredAt)
	assert.Equal(t, clk.Now(), rec.LastHeartbeat)

	reloaded := New(Config{Path: r.Path(), Now: clk.Now})
	got, err := reloaded.Get("users")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", got.Host)
	assert.Equal(t, "a", got.Metadata["zone"])
	assert.True(t, rec.RegisteredAt.Equal(got.RegisteredAt))
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	r := newTestRegistry(t, clk)

	_, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)
	_, err = r.UpdateStatus(ctx, "users", core.StatusMaintenance)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	next := apiRecord("users")
	next.Port = 9090
	_, err = r.Register(ctx, next)
	require.NoError(t, err)

	got, err := r.Get("users")
	require.NoError(t, err)
	assert.Equal(t, 9090, got.Port)
	assert.Equal(t, core.StatusActive, got.Status)
	assert.Equal(t, clk.Now(), got.RegisteredAt)
	assert.Len(t, r.All(), 1)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := newTestRegistry(t, newClock())

	rec := apiRecord("users")
	rec.Host = ""
	_, err := r.Register(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "host", verr.Field)

	rec = apiRecord("users")
	rec.Port = 70000
	_, err = r.Register(context.Background(), rec)
	assert.True(t, core.IsValidation(err))

	assert.Empty(t, r.All())
	_, statErr := os.Stat(r.Path())
	assert.True(t, os.IsNotExist(statErr), "rejected records must not be persisted")
}

func TestRegistry_Unregister(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newClock())

	_, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)

	removed, err := r.Unregister(ctx, "users")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Unregister(ctx, "users")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = r.Get("users")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistry_Heartbeat(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	r := newTestRegistry(t, clk)

	ok, err := r.Heartbeat(ctx, "ghost", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	ok, err = r.Heartbeat(ctx, "users", core.Metadata{"load": 0.4})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.Get("users")
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), got.LastHeartbeat)
	assert.Equal(t, core.Metadata{"zone": "a", "load": 0.4}, got.Metadata)
}

func TestRegistry_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newClock())

	_, err := r.UpdateStatus(ctx, "users", core.Status("sleeping"))
	assert.True(t, core.IsValidation(err))

	ok, err := r.UpdateStatus(ctx, "users", core.StatusError)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)
	ok, err = r.UpdateStatus(ctx, "users", core.StatusError)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := r.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRegistry_ReapStale(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	r := newTestRegistry(t, clk)

	_, err := r.Register(ctx, apiRecord("old"))
	require.NoError(t, err)

	active, err := r.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1, "a fresh record is visible before the TTL elapses")

	clk.Advance(DefaultTTL - time.Second)
	_, err = r.Register(ctx, apiRecord("new"))
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	active, err = r.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "new", active[0].Name)

	_, err = r.Get("old")
	assert.ErrorIs(t, err, core.ErrNotFound)

	n, err := r.ReapStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	reloaded := New(Config{Path: r.Path(), Now: clk.Now})
	assert.Len(t, reloaded.All(), 1, "reaping rewrites the registry file")
}

func TestRegistry_ReapStaleLeavesFileWhenNothingRemoved(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newClock())

	_, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)
	before := r.writes.Load()

	n, err := r.ReapStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, r.writes.Load())
}

func TestRegistry_Lookups(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newClock())

	for _, name := range []string{"b-api", "a-api"} {
		_, err := r.Register(ctx, apiRecord(name))
		require.NoError(t, err)
	}
	worker := apiRecord("jobs")
	worker.ServiceType = "worker"
	_, err := r.Register(ctx, worker)
	require.NoError(t, err)

	apis := r.ByType("api")
	require.Len(t, apis, 2)
	assert.Equal(t, "a-api", apis[0].Name)

	first, err := r.FindFirst("worker", "")
	require.NoError(t, err)
	assert.Equal(t, "jobs", first.Name)

	_, err = r.FindFirst("worker", core.StatusMaintenance)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.FindFirst("database", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistry_BuildURL(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newClock())
	_, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)

	cases := map[string]string{
		"":         "http://10.0.0.5:8080",
		"health":   "http://10.0.0.5:8080/health",
		"/health":  "http://10.0.0.5:8080/health",
		"//health": "http://10.0.0.5:8080/health",
		"v1/users": "http://10.0.0.5:8080/v1/users",
	}
	for endpoint, want := range cases {
		got, err := r.BuildURL("users", endpoint)
		require.NoError(t, err)
		assert.Equal(t, want, got, "endpoint %q", endpoint)
	}

	_, err = r.BuildURL("ghost", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistry_Summary(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	r := newTestRegistry(t, clk)

	_, err := r.Register(ctx, apiRecord("a"))
	require.NoError(t, err)
	_, err = r.Register(ctx, apiRecord("b"))
	require.NoError(t, err)
	_, err = r.UpdateStatus(ctx, "b", core.StatusInactive)
	require.NoError(t, err)

	summary, err := r.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Active)
	assert.Equal(t, map[string]int{"api": 2}, summary.ByType)
	assert.Equal(t, clk.Now(), summary.LastUpdated)
}

func TestRegistry_Health(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	r := newTestRegistry(t, clk)

	_, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)

	steps := []struct {
		advance time.Duration
		want    core.HealthState
	}{
		{0, core.HealthHealthy},
		{WarningAge + time.Second, core.HealthWarning},
		{DefaultTTL, core.HealthUnhealthy},
	}
	for _, step := range steps {
		clk.Advance(step.advance)
		h, err := r.Health("users")
		require.NoError(t, err)
		assert.Equal(t, step.want, h.State)
		assert.Equal(t, h.Uptime, h.HeartbeatAge)
	}

	_, err = r.Health("ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistry_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	r := New(Config{Path: path})
	assert.Empty(t, r.All())

	_, err := r.Register(context.Background(), apiRecord("users"))
	require.NoError(t, err)
	assert.Len(t, New(Config{Path: path}).All(), 1)
}

func TestRegistry_FailedWriteLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	dir := filepath.Join(t.TempDir(), "state")
	r := New(Config{
		Path:          filepath.Join(dir, DefaultFile),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		WriteAttempts: 1,
		Now:           clk.Now,
	})
	_, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)

	// A file where the directory should be makes every write fail.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0644))

	_, err = r.Register(ctx, apiRecord("orders"))
	require.Error(t, err)
	_, err = r.Get("orders")
	assert.ErrorIs(t, err, core.ErrNotFound)

	removed, err := r.Unregister(ctx, "users")
	require.Error(t, err)
	assert.False(t, removed)

	clk.Advance(time.Minute)
	ok, err := r.Heartbeat(ctx, "users", core.Metadata{"load": 0.5})
	require.Error(t, err)
	assert.False(t, ok)

	ok, err = r.UpdateStatus(ctx, "users", core.StatusMaintenance)
	require.Error(t, err)
	assert.False(t, ok)

	got, err := r.Get("users")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, got.Status)
	assert.NotContains(t, got.Metadata, "load")
	assert.True(t, got.LastHeartbeat.Equal(got.RegisteredAt))

	require.NoError(t, os.Remove(dir))
	_, err = r.Register(ctx, apiRecord("orders"))
	require.NoError(t, err)

	reloaded := New(Config{Path: r.Path(), Now: clk.Now})
	names := []string{}
	for _, rec := range reloaded.All() {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"orders", "users"}, names)
}

func TestRegistry_RecordsWithoutHeartbeatAreNotReaped(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`{
  "services": {
    "legacy": {"name": "legacy", "host": "10.0.0.1", "port": 80, "status": "active", "service_type": "api"}
  },
  "updated_at": "2025-03-01T12:00:00Z"
}`), 0644))

	r := New(Config{Path: path, Now: clk.Now})
	clk.Advance(24 * time.Hour)

	n, err := r.ReapStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	active, err := r.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "legacy", active[0].Name)
}

func TestRegistry_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", DefaultFile)
	r := New(Config{Path: path})

	_, err := r.Register(context.Background(), apiRecord("users"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestRegistry_State(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newClock())
	_, err := r.Register(ctx, apiRecord("users"))
	require.NoError(t, err)

	state, ok := r.State().(RegistryState)
	require.True(t, ok)
	assert.Equal(t, 1, state.Services)
	assert.Equal(t, 1, state.ByStatus["active"])
	assert.Equal(t, int64(1), state.Writes)
	assert.False(t, state.SweeperActive)
	assert.Equal(t, "service_registry", r.ComponentType())
}
