package fs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/beacon/internal/fsutil"
)

// newTestStore creates an initialized store in a temporary directory.
func newTestStore(t *testing.T, mutate ...func(*Config)) *Store {
	t.Helper()

	cfg := Config{
		Path:         t.TempDir(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval: 20 * time.Millisecond,
		PollBackoff:  20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

// touchDoc replaces the file at path in a single rename, with a modification
// time strictly after the current one, so pollers observe exactly one change.
// A nil data keeps the current content.
func touchDoc(t *testing.T, path string, data []byte) {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if data == nil {
		if data, err = os.ReadFile(path); err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
	}
	mt := fi.ModTime()
	if now := time.Now(); now.After(mt) {
		mt = now
	}
	mt = mt.Add(time.Second)

	tmp := filepath.Join(filepath.Dir(path), fsutil.TempFilePrefix+"test")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		t.Fatalf("write %s: %v", tmp, err)
	}
	if err := os.Chtimes(tmp, mt, mt); err != nil {
		t.Fatalf("chtimes %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename %s: %v", tmp, err)
	}
}

func docPath(s *Store, name, ext string) string {
	return filepath.Join(s.Path, name+ext)
}
