package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orbview/internal/metrics"
	"github.com/star/orbview/internal/tle"
)

var (
	// ErrNoSnapshot is returned before any TLE snapshot has been loaded.
	ErrNoSnapshot = errors.New("no TLE snapshot loaded")
	// ErrUnknownSatellite is returned by Lookup for names not in the snapshot
	// or whose elements fail to initialize.
	ErrUnknownSatellite = errors.New("unknown satellite")
)

// sgp4Cache holds preinitialized SGP4 propagators for one snapshot, keyed by
// name. Immutable after construction; safe for concurrent reads.
type sgp4Cache struct {
	props    map[string]*SGP4Propagator
	snapshot *tle.Snapshot
}

// Propagator computes render-space frames from the snapshot currently held in
// the store.
type Propagator struct {
	store  *tle.Store
	pool   *WorkerPool
	config PropConfig
	logger *slog.Logger
	sgp4   atomic.Pointer[sgp4Cache]
	sgp4Mu sync.Mutex // serializes cache rebuilds
}

// NewPropagator creates a new propagation orchestrator.
func NewPropagator(store *tle.Store, config PropConfig, logger *slog.Logger) *Propagator {
	pool := NewWorkerPool(config.Workers, logger)
	config.Workers = pool.Workers()
	if config.MaxSatellites <= 0 {
		config.MaxSatellites = DefaultMaxSatellites
	}
	metrics.SetPropagationWorkers(config.Workers)
	return &Propagator{
		store:  store,
		pool:   pool,
		config: config,
		logger: logger,
	}
}

// MaxSatellites returns the per-frame satellite cap.
func (p *Propagator) MaxSatellites() int {
	return p.config.MaxSatellites
}

// cachedProps returns preinitialized SGP4 propagators for the given snapshot.
// Rebuilds the cache if the snapshot has changed (double-checked locking).
func (p *Propagator) cachedProps(snap *tle.Snapshot) map[string]*SGP4Propagator {
	if c := p.sgp4.Load(); c != nil && c.snapshot == snap {
		return c.props
	}

	p.sgp4Mu.Lock()
	defer p.sgp4Mu.Unlock()

	if c := p.sgp4.Load(); c != nil && c.snapshot == snap {
		return c.props
	}

	props := make(map[string]*SGP4Propagator, len(snap.Data))
	var skipped int
	for name, r := range snap.Data {
		r.Name = name
		sp, err := NewSGP4Propagator(r)
		if err != nil {
			p.logger.Warn("sgp4 cache init failed", "name", name, "error", err)
			skipped++
			continue
		}
		props[name] = sp
	}

	p.logger.Info("sgp4 propagator cache rebuilt",
		"cached", len(props),
		"skipped", skipped,
		"snapshot_downloaded_at", snap.DownloadedAt.UTC().Format(time.RFC3339),
	)
	p.sgp4.Store(&sgp4Cache{props: props, snapshot: snap})
	return props
}

// PositionsAt renders the snapshot at targetTime. filter, when non-empty, keeps
// names containing it (case-insensitive). limit caps the number of satellites
// and is itself capped by MaxSatellites; zero means MaxSatellites.
func (p *Propagator) PositionsAt(ctx context.Context, targetTime time.Time, filter string, limit int) (*Frame, error) {
	snap := p.store.Get()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	if limit <= 0 || limit > p.config.MaxSatellites {
		limit = p.config.MaxSatellites
	}

	records := selectRecords(snap, filter, limit)
	props := p.cachedProps(snap)

	p.logger.Debug("propagating",
		"satellite_count", len(records),
		"target_time", targetTime.UTC().Format(time.RFC3339),
		"workers", p.config.Workers,
	)

	start := time.Now()
	positions, successCount, errorCount := p.pool.renderBatch(ctx, records, targetTime, props)
	duration := time.Since(start)

	metrics.RecordPropagation(duration, successCount, errorCount)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"duration_ms", duration.Milliseconds(),
	)

	return &Frame{
		Timestamp:  targetTime,
		Satellites: positions,
		Failed:     errorCount,
	}, nil
}

// Lookup returns the propagator for name. An exact match wins; otherwise a
// unique case-insensitive match is used.
func (p *Propagator) Lookup(name string) (*SGP4Propagator, error) {
	snap := p.store.Get()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	props := p.cachedProps(snap)

	name = strings.TrimSpace(name)
	if sp, ok := props[name]; ok {
		return sp, nil
	}

	var found *SGP4Propagator
	for n, sp := range props {
		if strings.EqualFold(n, name) {
			if found != nil {
				return nil, fmt.Errorf("%q matches several satellites: %w", name, ErrUnknownSatellite)
			}
			found = sp
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownSatellite)
	}
	return found, nil
}

// selectRecords returns up to limit records whose name contains filter,
// sorted by name.
func selectRecords(snap *tle.Snapshot, filter string, limit int) []tle.Record {
	filter = strings.ToLower(strings.TrimSpace(filter))

	names := make([]string, 0, len(snap.Data))
	for name := range snap.Data {
		if filter == "" || strings.Contains(strings.ToLower(name), filter) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}

	records := make([]tle.Record, len(names))
	for i, name := range names {
		r := snap.Data[name]
		r.Name = name
		records[i] = r
	}
	return records
}
