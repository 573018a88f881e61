package tle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultCachePath is relative to the working directory.
	DefaultCachePath = "cache/tle_cache.json"
	// DefaultMaxAge is the freshness window.
	DefaultMaxAge = 24 * time.Hour
)

// FileCacheConfig configures a FileCache.
type FileCacheConfig struct {
	Path   string        // Cache file (default: cache/tle_cache.json)
	MaxAge time.Duration // Freshness window (default: 24h)
}

// FileCache persists the last downloaded snapshot as one JSON file and serves
// it while it is younger than MaxAge. Safe for concurrent use within a process;
// there is no locking across processes.
type FileCache struct {
	mu     sync.Mutex
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// NewFileCache creates a FileCache. Zero config fields take their defaults.
func NewFileCache(cfg FileCacheConfig) *FileCache {
	if cfg.Path == "" {
		cfg.Path = DefaultCachePath
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &FileCache{
		path:   cfg.Path,
		maxAge: cfg.MaxAge,
		now:    time.Now,
	}
}

// Path returns the cache file path.
func (c *FileCache) Path() string {
	return c.path
}

// MaxAge returns the freshness window.
func (c *FileCache) MaxAge() time.Duration {
	return c.maxAge
}

// Load reads the persisted snapshot.
//
// Returns a *MissError (matching ErrCacheMiss) when the file is absent,
// cannot be parsed, or is stale. A snapshot exactly MaxAge old is stale.
// Any other read failure is a *StorageError.
func (c *FileCache) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissError{Reason: MissAbsent, Path: c.path}
		}
		return nil, &StorageError{Op: "load", Path: c.path, Err: err}
	}

	snap, err := decodeSnapshot(data, "cache")
	if err != nil {
		return nil, &MissError{Reason: MissCorrupt, Path: c.path, Err: err}
	}

	if !fresh(snap, c.now(), c.maxAge) {
		return nil, &MissError{Reason: MissExpired, Path: c.path}
	}

	return snap, nil
}

// Store writes the snapshot. The data goes to a temporary file in the same
// directory which is synced and renamed over the cache file, so readers see
// either the previous file or the new one.
func (c *FileCache) Store(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("storing nil snapshot")
	}

	data, err := json.MarshalIndent(snap.toFile(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeFileAtomic(c.path, data); err != nil {
		return &StorageError{Op: "store", Path: c.path, Err: err}
	}
	return nil
}

// Clear removes the cache file. Clearing an absent cache is not an error.
func (c *FileCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "clear", Path: c.path, Err: err}
	}
	return nil
}

// fresh reports whether snap is younger than maxAge at now. Timestamps in the
// future count as fresh.
func fresh(snap *Snapshot, now time.Time, maxAge time.Duration) bool {
	return snap.Age(now) < maxAge
}

func decodeSnapshot(data []byte, source string) (*Snapshot, error) {
	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f.toSnapshot(source), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting cache file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	committed = true
	return nil
}
