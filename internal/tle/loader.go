package tle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/star/orbview/internal/metrics"
)

// SnapshotCache is a persisted snapshot tier (FileCache, RedisCache).
type SnapshotCache interface {
	Load(ctx context.Context) (*Snapshot, error)
	Store(ctx context.Context, snap *Snapshot) error
	Clear(ctx context.Context) error
}

// Loader resolves the current snapshot: local file cache first, then the
// optional shared mirror, then a fresh download which is written back to
// both tiers. The result is published to the Store.
type Loader struct {
	mu         sync.Mutex // serializes load/refresh/clear
	tiers      []namedTier
	downloader Downloader
	store      *Store
	logger     *slog.Logger
}

type namedTier struct {
	name  string
	cache SnapshotCache
}

// NewLoader creates a Loader. mirror may be nil.
func NewLoader(file *FileCache, mirror SnapshotCache, downloader Downloader, store *Store, logger *slog.Logger) *Loader {
	tiers := []namedTier{{name: "file", cache: file}}
	if mirror != nil {
		tiers = append(tiers, namedTier{name: "redis", cache: mirror})
	}
	return &Loader{
		tiers:      tiers,
		downloader: downloader,
		store:      store,
		logger:     logger,
	}
}

// Load returns a fresh snapshot from the first tier that has one, or
// downloads a new one. Storage errors on read are logged and treated like a
// miss; the download error is returned if nothing could be loaded.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, tier := range l.tiers {
		snap, err := tier.cache.Load(ctx)
		if err == nil {
			metrics.IncTLECacheHit(tier.name)
			l.logger.Info("loaded TLE data from cache",
				"tier", tier.name,
				"satellite_count", snap.Len(),
				"downloaded_at", snap.DownloadedAt.UTC().Format(time.RFC3339),
			)
			// Backfill faster tiers that missed.
			l.storeTiers(ctx, snap, l.tiers[:i])
			l.publish(snap)
			return snap, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var miss *MissError
		switch {
		case errors.As(err, &miss):
			metrics.IncTLECacheMiss(tier.name, string(miss.Reason))
			l.logger.Info("TLE cache miss", "tier", tier.name, "reason", miss.Reason, "error", miss.Err)
		case IsStorageError(err):
			metrics.IncTLECacheStorageError(tier.name, "load")
			l.logger.Warn("TLE cache unreadable, downloading fresh data", "tier", tier.name, "error", err)
		default:
			return nil, err
		}
	}

	return l.download(ctx)
}

// Refresh downloads a new snapshot regardless of cache state.
func (l *Loader) Refresh(ctx context.Context) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.download(ctx)
}

// Clear removes the snapshot from every tier. The in-memory snapshot keeps
// serving until the next load. All tier errors are joined.
func (l *Loader) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, tier := range l.tiers {
		if err := tier.cache.Clear(ctx); err != nil {
			metrics.IncTLECacheStorageError(tier.name, "clear")
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	l.logger.Info("TLE cache cleared")
	return nil
}

// download must be called with mu held.
func (l *Loader) download(ctx context.Context) (*Snapshot, error) {
	snap, err := l.downloader.Download(ctx)
	if err != nil {
		return nil, fmt.Errorf("downloading TLE data: %w", err)
	}
	l.storeTiers(ctx, snap, l.tiers)
	l.publish(snap)
	return snap, nil
}

func (l *Loader) storeTiers(ctx context.Context, snap *Snapshot, tiers []namedTier) {
	for _, tier := range tiers {
		if err := tier.cache.Store(ctx, snap); err != nil {
			metrics.IncTLECacheStorageError(tier.name, "store")
			l.logger.Warn("failed to save TLE cache", "tier", tier.name, "error", err)
		}
	}
}

func (l *Loader) publish(snap *Snapshot) {
	l.store.Set(snap)
	metrics.SetTLESnapshot(snap.Len(), snap.DownloadedAt)
}
