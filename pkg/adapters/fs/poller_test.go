package fs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aretw0/beacon/pkg/core"
)

type recorder struct {
	mu    sync.Mutex
	calls []core.Body
	ch    chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 16)} }

func (r *recorder) fn(_ context.Context, _ string, body core.Body) error {
	r.mu.Lock()
	r.calls = append(r.calls, body)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch callback")
	}
}

func TestWatch_DetectsChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "app", core.Body{"v": 1}, "")
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, s.Watch("app", rec.fn))

	touchDoc(t, docPath(s, "app", ".json"), []byte(`{"v": 2}`))

	rec.wait(t)
	assert.Equal(t, 2, rec.calls[0]["v"])

	// No further change, no further calls.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	require.NoError(t, s.Close(ctx))
}

func TestWatch_MissingDocument(t *testing.T) {
	s := newTestStore(t)
	err := s.Watch("nope", newRecorder().fn)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, s.State().(StoreState).PollerActive)
}

func TestWatch_DuplicatesAndStopWatching(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "a", core.Body{}, "")
	require.NoError(t, err)
	_, err = s.Save(ctx, "b", core.Body{}, "")
	require.NoError(t, err)

	recA := newRecorder()
	recB := newRecorder()
	require.NoError(t, s.Watch("a", recA.fn))
	require.NoError(t, s.Watch("a", recA.fn))
	require.NoError(t, s.Watch("b", recB.fn))
	assert.Equal(t, 3, s.State().(StoreState).Watchers)

	touchDoc(t, docPath(s, "a", ".json"), nil)
	recA.wait(t)
	recA.wait(t)
	assert.Equal(t, 2, recA.count(), "duplicate registrations each fire")

	assert.True(t, s.Watching("a"))
	s.StopWatching("a")
	assert.Equal(t, 1, s.State().(StoreState).Watchers)
	assert.False(t, s.Watching("a"))
	assert.True(t, s.Watching("b"))

	touchDoc(t, docPath(s, "a", ".json"), nil)
	touchDoc(t, docPath(s, "b", ".json"), nil)
	recB.wait(t)
	assert.Equal(t, 2, recA.count())

	require.NoError(t, s.Close(ctx))
}

func TestWatch_CallbackFailuresAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "a", core.Body{}, "")
	require.NoError(t, err)

	var mu sync.Mutex
	failures := 0
	require.NoError(t, s.Watch("a", func(context.Context, string, core.Body) error {
		mu.Lock()
		defer mu.Unlock()
		failures++
		if failures == 1 {
			panic("boom")
		}
		return errors.New("still failing")
	}))
	rec := newRecorder()
	require.NoError(t, s.Watch("a", rec.fn))

	touchDoc(t, docPath(s, "a", ".json"), nil)
	rec.wait(t)

	touchDoc(t, docPath(s, "a", ".json"), nil)
	rec.wait(t)

	mu.Lock()
	assert.Equal(t, 2, failures, "failing watcher fires once per change")
	mu.Unlock()

	require.NoError(t, s.Close(ctx))
}

func TestWatch_StopAllFromCallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "a", core.Body{}, "")
	require.NoError(t, err)

	stopped := make(chan struct{})
	require.NoError(t, s.Watch("a", func(context.Context, string, core.Body) error {
		s.StopAll()
		close(stopped)
		return nil
	}))
	p := s.poller

	touchDoc(t, docPath(s, "a", ".json"), nil)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not exit after StopAll")
	}
	assert.False(t, s.State().(StoreState).PollerActive)

	t.Run("watch restarts the poller", func(t *testing.T) {
		rec := newRecorder()
		require.NoError(t, s.Watch("a", rec.fn))
		assert.NotSame(t, p, s.poller)
		touchDoc(t, docPath(s, "a", ".json"), nil)
		rec.wait(t)
		require.NoError(t, s.Close(ctx))
	})
}

func TestWatch_NotifyNudge(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, func(c *Config) {
		c.Notify = true
		c.PollInterval = time.Hour
	})
	ctx := context.Background()
	_, err := s.Save(ctx, "a", core.Body{"v": 1}, "")
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, s.Watch("a", rec.fn))

	// The first pass runs immediately; wait for the poller to settle into its sleep.
	time.Sleep(50 * time.Millisecond)

	touchDoc(t, docPath(s, "a", ".json"), []byte(`{"v": 2}`))

	rec.wait(t)
	require.NoError(t, s.Close(ctx))
}
