package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/beacon/internal/fsutil"
	"github.com/aretw0/beacon/pkg/cache"
	"github.com/aretw0/beacon/pkg/core"
)

const (
	// DefaultPollInterval is the period between two watcher passes.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollBackoff is the pause after a failed watcher pass.
	DefaultPollBackoff = 5 * time.Second
	// DefaultHistoryLimit caps the per-name history.
	DefaultHistoryLimit = 50

	backupStamp = "20060102_150405"
)

// Config holds the configuration for the filesystem store.
type Config struct {
	Path          string
	DefaultFormat core.Format
	Logger        *slog.Logger

	// CacheEntries and CacheBudget bound the document cache.
	CacheEntries int
	CacheBudget  int64
	// Metrics, when set, receives the cache counters.
	Metrics prometheus.Registerer

	PollInterval time.Duration
	PollBackoff  time.Duration
	// Notify wakes the poller on directory events. Detection still compares mtimes.
	Notify bool

	HistoryLimit int
	Now          func() time.Time
}

// Store implements core.ConfigStore using one file per document.
type Store struct {
	Path        string
	config      Config
	logger      *slog.Logger
	cache       *cache.Cache[core.Body]
	serializers map[string]Serializer

	// writeMu serializes writers within the process. Cache fills in Load
	// hold it for reading so a fill never overwrites a newer write.
	writeMu sync.RWMutex
	// afterRead runs between the file read and the cache fill in Load.
	afterRead func(name string)

	histMu  sync.RWMutex
	history map[string][]core.HistoryEntry

	watchMu  sync.Mutex
	watchers []*watcher
	poller   *pollWorker
}

// NewStore creates a filesystem-backed store. Call Initialize before use.
func NewStore(config Config) (*Store, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.DefaultFormat == "" {
		config.DefaultFormat = core.FormatJSON
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.PollBackoff <= 0 {
		config.PollBackoff = DefaultPollBackoff
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	opts := []cache.Option[core.Body]{cache.WithCopier(core.CloneBody)}
	if config.Metrics != nil {
		opts = append(opts, cache.WithMetrics[core.Body](config.Metrics, "config_store"))
	}
	c, err := cache.New(config.CacheEntries, config.CacheBudget, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}

	return &Store{
		Path:        config.Path,
		config:      config,
		logger:      config.Logger,
		cache:       c,
		serializers: DefaultSerializers(),
		history:     make(map[string][]core.HistoryEntry),
	}, nil
}

// Initialize creates the store directory.
func (s *Store) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.Path, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time { return s.config.Now() }

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", core.ErrInvalidName, name)
	}
	return nil
}

func notFound(name string) error {
	return fmt.Errorf("config %q: %w", name, core.ErrNotFound)
}

// resolve finds the backing file of name by extension precedence.
func (s *Store) resolve(name string) (path, ext string, info os.FileInfo, err error) {
	for _, ext := range extensionOrder {
		p := filepath.Join(s.Path, name+ext)
		fi, err := os.Stat(p)
		if err == nil && !fi.IsDir() {
			return p, ext, fi, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", "", nil, err
		}
	}
	return "", "", nil, notFound(name)
}

// Save persists a document under name and returns the file path.
func (s *Store) Save(ctx context.Context, name string, body core.Body, format core.Format) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.save(ctx, name, body, format)
}

// save must be called with writeMu held.
func (s *Store) save(ctx context.Context, name string, body core.Body, format core.Format) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if format == "" {
		format = s.config.DefaultFormat
	}
	ext := format.Extension()
	ser, ok := s.serializers[ext]
	if !ok {
		return "", fmt.Errorf("no serializer for format %q", format)
	}

	doc := core.CloneBody(body)
	if doc == nil {
		doc = core.Body{}
	}
	s.stamp(doc, format)

	data, err := ser.Encode(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode %q: %w", name, err)
	}

	path := filepath.Join(s.Path, name+ext)
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %q: %w", name, err)
	}
	s.removeSiblings(name, ext)

	// Cache what a later load would read, not the caller's value types.
	stored, err := ser.Decode(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %q after write: %w", name, err)
	}
	s.cache.Put(name, stored)

	s.logger.Debug("config saved", "name", name, "path", path)
	return path, nil
}

// stamp merges the reserved metadata into doc.
func (s *Store) stamp(doc core.Body, format core.Format) {
	now := s.now().Format(time.RFC3339Nano)
	meta := core.Metadata{}
	for k, v := range doc.Meta() {
		meta[k] = v
	}
	if _, ok := meta["created"]; !ok {
		meta["created"] = now
	}
	meta["updated"] = now
	meta["version"] = core.DocumentVersion
	meta["format"] = string(format)
	doc[core.MetadataKey] = map[string]any(meta)
}

// formatFor returns the encoding of the existing file, or the default.
func (s *Store) formatFor(name string) core.Format {
	if _, ext, _, err := s.resolve(name); err == nil {
		return formatOf(ext)
	}
	return s.config.DefaultFormat
}

// removeSiblings deletes files of other extensions so one name maps to one file.
func (s *Store) removeSiblings(name, keep string) {
	for _, ext := range extensionOrder {
		if ext == keep {
			continue
		}
		p := filepath.Join(s.Path, name+ext)
		if err := os.Remove(p); err == nil {
			s.logger.Debug("removed stale encoding", "name", name, "path", p)
		}
	}
}

// Load returns a copy of the named document.
func (s *Store) Load(ctx context.Context, name string, useCache bool) (core.Body, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if useCache {
		if body, ok := s.cache.Get(name); ok {
			return body, nil
		}
	}

	s.writeMu.RLock()
	defer s.writeMu.RUnlock()

	body, _, err := s.read(name)
	if err != nil {
		return nil, err
	}
	if s.afterRead != nil {
		s.afterRead(name)
	}
	s.cache.Put(name, body)
	return body, nil
}

// read decodes the backing file of name, bypassing the cache.
func (s *Store) read(name string) (core.Body, string, error) {
	path, ext, _, err := s.resolve(name)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", notFound(name)
		}
		return nil, "", err
	}
	body, err := s.serializers[ext].Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return body, ext, nil
}

// Update shallow-merges updates into the document. With backup set, the
// previous body is first saved as <name>_backup_<timestamp>.
func (s *Store) Update(ctx context.Context, name string, updates core.Body, backup bool) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := validName(name); err != nil {
		return "", err
	}

	format := s.config.DefaultFormat
	existing, ext, err := s.read(name)
	switch {
	case errors.Is(err, core.ErrNotFound):
		existing = core.Body{}
	case err != nil:
		return "", err
	default:
		format = formatOf(ext)
	}

	if backup && len(existing) > 0 {
		snapshot := name + "_backup_" + s.now().Format(backupStamp)
		if _, err := s.save(ctx, snapshot, existing, format); err != nil {
			return "", fmt.Errorf("failed to back up %q: %w", name, err)
		}
	}

	for k, v := range updates {
		existing[k] = core.CloneValue(v)
	}
	return s.save(ctx, name, existing, format)
}

// Delete removes the document. With backup set, the body is first saved as
// <name>_deleted_<timestamp>. It reports whether a file was removed.
func (s *Store) Delete(ctx context.Context, name string, backup bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := validName(name); err != nil {
		return false, err
	}

	path, ext, _, err := s.resolve(name)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if backup {
		body, _, err := s.read(name)
		if err != nil {
			return false, err
		}
		snapshot := name + "_deleted_" + s.now().Format(backupStamp)
		if _, err := s.save(ctx, snapshot, body, formatOf(ext)); err != nil {
			return false, fmt.Errorf("failed to back up %q: %w", name, err)
		}
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete %q: %w", name, err)
	}
	s.cache.Delete(name)
	s.logger.Debug("config deleted", "name", name, "path", path)
	return true, nil
}

// List returns the sorted names of every stored document.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	names := mapset.NewSet[string]()
	for _, e := range entries {
		if e.IsDir() || fsutil.IsTempFile(e.Name()) {
			continue
		}
		ext := filepath.Ext(e.Name())
		if _, ok := s.serializers[ext]; !ok {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if validName(name) != nil {
			continue
		}
		names.Add(name)
	}

	out := names.ToSlice()
	sort.Strings(out)
	return out, nil
}

// Info describes the named document and its backing file.
func (s *Store) Info(ctx context.Context, name string) (core.DocumentInfo, error) {
	if err := validName(name); err != nil {
		return core.DocumentInfo{}, err
	}
	path, _, fi, err := s.resolve(name)
	if err != nil {
		return core.DocumentInfo{}, err
	}
	body, err := s.Load(ctx, name, true)
	if err != nil {
		return core.DocumentInfo{}, err
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	meta := body.Meta()
	if meta == nil {
		meta = core.Metadata{}
	}
	return core.DocumentInfo{
		Name:     name,
		Path:     path,
		Size:     fi.Size(),
		Modified: fi.ModTime(),
		Metadata: meta,
		Keys:     keys,
	}, nil
}

// ClearCache drops every cached document.
func (s *Store) ClearCache() {
	s.cache.Clear()
}

// CacheStats reports document cache usage.
func (s *Store) CacheStats() cache.Stats {
	return s.cache.Stats()
}

var _ core.ConfigStore = (*Store)(nil)
var _ core.Watchable = (*Store)(nil)
var _ core.Versioned = (*Store)(nil)
