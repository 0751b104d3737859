package fs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/atomic"

	"github.com/aretw0/beacon/internal/fsutil"
	"github.com/aretw0/beacon/pkg/core"
)

// watcher tracks one document's modification time. Fields are guarded by
// Store.watchMu.
type watcher struct {
	name         string
	fn           core.WatchFunc
	lastModified time.Time
	enabled      bool
}

// Watch registers fn for changes to the named document and starts the
// poller if it is not running. The document must already exist.
func (s *Store) Watch(name string, fn core.WatchFunc) error {
	if err := validName(name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("watch %q: nil callback", name)
	}
	_, _, fi, err := s.resolve(name)
	if err != nil {
		return err
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.watchers = append(s.watchers, &watcher{
		name:         name,
		fn:           fn,
		lastModified: fi.ModTime(),
		enabled:      true,
	})

	if s.poller == nil {
		w := newPollWorker(s)
		if err := w.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start poller: %w", err)
		}
		s.poller = w
	}
	return nil
}

// StopWatching removes every watcher registered for name.
func (s *Store) StopWatching(name string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	kept := s.watchers[:0]
	for _, w := range s.watchers {
		if w.name == name {
			w.enabled = false
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(s.watchers); i++ {
		s.watchers[i] = nil
	}
	s.watchers = kept
}

// Watching reports whether any watcher is registered for name.
func (s *Store) Watching(name string) bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, w := range s.watchers {
		if w.name == name && w.enabled {
			return true
		}
	}
	return false
}

// StopAll removes every watcher and signals the poller to exit after its
// current pass. It does not wait, so it is safe to call from a callback.
func (s *Store) StopAll() {
	p := s.detachPoller()
	if p == nil {
		return
	}
	p.requestStop()
	lifecycle.Go(context.Background(), func(ctx context.Context) error {
		return p.Stop(ctx)
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("poller stop failed", "error", err)
	}))
}

// Close stops the poller and waits for it to exit or for ctx to expire.
func (s *Store) Close(ctx context.Context) error {
	p := s.detachPoller()
	if p == nil {
		return nil
	}
	return p.Stop(ctx)
}

func (s *Store) detachPoller() *pollWorker {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, w := range s.watchers {
		w.enabled = false
	}
	s.watchers = nil
	p := s.poller
	s.poller = nil
	return p
}

func (s *Store) snapshotWatchers() []*watcher {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return append([]*watcher(nil), s.watchers...)
}

// pollWorker is the single background task comparing watched modification
// times. Callbacks run sequentially on its goroutine.
type pollWorker struct {
	*worker.BaseWorker
	store   *Store
	nudge   *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	started *atomic.Bool
	passes  *atomic.Int64
}

func newPollWorker(store *Store) *pollWorker {
	return &pollWorker{
		BaseWorker: worker.NewBaseWorker("config-poller"),
		store:      store,
		done:       make(chan struct{}),
		started:    atomic.NewBool(false),
		passes:     atomic.NewInt64(0),
	}
}

func (w *pollWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("poller already started (status: %s)", status)
	}

	if w.store.config.Notify {
		nw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := nw.Add(w.store.Path); err != nil {
			_ = nw.Close()
			return fmt.Errorf("failed to watch %s: %w", w.store.Path, err)
		}
		w.nudge = nw
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started.Store(true)

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *pollWorker) requestStop() {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
}

func (w *pollWorker) Stop(ctx context.Context) error {
	w.requestStop()
	err := w.BaseWorker.Stop(ctx)
	if !w.started.Load() {
		return err
	}
	select {
	case <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *pollWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"passes":            fmt.Sprint(w.passes.Load()),
		}
	})
}

// run is the main loop of the poller.
func (w *pollWorker) run(ctx context.Context) error {
	defer close(w.done)
	if w.nudge != nil {
		defer w.nudge.Close()
	}

	interval := w.store.config.PollInterval
	backoff := w.store.config.PollBackoff
	for {
		wait := interval
		if err := w.pass(ctx); err != nil {
			w.store.logger.Error("poll pass failed", "error", err)
			wait = backoff
		}
		if !w.sleep(ctx, wait) {
			return nil
		}
	}
}

// pass checks every enabled watcher once. A panic outside a callback is
// turned into an error so the loop can back off.
func (w *pollWorker) pass(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("poller panic: %v", recovered)
			if w.store.logger.Enabled(ctx, slog.LevelDebug) {
				w.store.logger.Debug("poller panic", "stack", string(debug.Stack()))
			}
		}
	}()
	defer w.passes.Inc()

	for _, wt := range w.store.snapshotWatchers() {
		w.check(ctx, wt)
	}
	return nil
}

func (w *pollWorker) check(ctx context.Context, wt *watcher) {
	s := w.store

	s.watchMu.Lock()
	enabled, last := wt.enabled, wt.lastModified
	s.watchMu.Unlock()
	if !enabled {
		return
	}

	_, _, fi, err := s.resolve(wt.name)
	if err != nil {
		return
	}
	mtime := fi.ModTime()
	if !mtime.After(last) {
		return
	}

	body, err := s.Load(ctx, wt.name, false)
	if err != nil {
		s.logger.Warn("failed to reload changed config", "name", wt.name, "error", err)
		return
	}

	if err := w.invoke(ctx, wt, body); err != nil {
		s.logger.Error("watch callback failed", "name", wt.name, "error", err)
	}

	s.watchMu.Lock()
	if mtime.After(wt.lastModified) {
		wt.lastModified = mtime
	}
	s.watchMu.Unlock()
}

// invoke runs one callback, converting a panic into an error.
func (w *pollWorker) invoke(ctx context.Context, wt *watcher, body core.Body) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("callback panic: %v", recovered)
		}
	}()
	return wt.fn(ctx, wt.name, body)
}

// sleep waits for d, an early nudge, or cancellation. It returns false once
// the worker should exit.
func (w *pollWorker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.nudge != nil {
		events, errs = w.nudge.Events, w.nudge.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if w.relevant(ev) {
				return true
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.store.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *pollWorker) relevant(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if fsutil.IsTempFile(base) {
		return false
	}
	if _, ok := w.store.serializers[filepath.Ext(base)]; !ok {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
