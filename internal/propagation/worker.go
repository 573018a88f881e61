package propagation

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/star/orbview/internal/tle"
	"github.com/star/orbview/internal/transform"
)

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	record     tle.Record
	prop       *SGP4Propagator // nil: build from record
	targetTime time.Time
}

// propagateResult is the output of a single satellite propagation.
type propagateResult struct {
	position SatellitePosition
	err      error
	name     string
}

// WorkerPool manages a fixed number of goroutines for parallel SGP4 propagation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
// A non-positive count uses runtime.NumCPU().
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// RenderBatch propagates every record to targetTime and converts the result to
// render space. Positions are sorted by name. Failed satellites are logged,
// counted and skipped. On cancellation the batch stops early and returns what
// completed.
func (wp *WorkerPool) RenderBatch(ctx context.Context, records []tle.Record, targetTime time.Time) ([]SatellitePosition, int, int) {
	return wp.renderBatch(ctx, records, targetTime, nil)
}

// renderBatch uses preinitialized propagators from props when present.
func (wp *WorkerPool) renderBatch(ctx context.Context, records []tle.Record, targetTime time.Time, props map[string]*SGP4Propagator) ([]SatellitePosition, int, int) {
	if len(records) == 0 {
		return nil, 0, 0
	}

	jobs := make(chan propagateJob, wp.workers*2)
	results := make(chan propagateResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := renderSingle(job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for _, r := range records {
			job := propagateJob{
				record:     r,
				prop:       props[r.Name],
				targetTime: targetTime,
			}
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	positions := make([]SatellitePosition, 0, len(records))
	var successCount, errorCount int

	for result := range results {
		if result.err != nil {
			errorCount++
			wp.logger.Debug("propagation failed",
				"name", result.name,
				"error", result.err,
			)
			continue
		}
		successCount++
		positions = append(positions, result.position)
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Name < positions[j].Name
	})
	return positions, successCount, errorCount
}

// renderSingle performs SGP4 propagation and the TEME to render conversion for
// one satellite.
func renderSingle(job propagateJob) propagateResult {
	prop := job.prop
	if prop == nil {
		var err error
		prop, err = NewSGP4Propagator(job.record)
		if err != nil {
			return propagateResult{name: job.record.Name, err: err}
		}
	}

	teme, err := prop.Propagate(job.targetTime)
	if err != nil {
		return propagateResult{name: prop.Name(), err: err}
	}

	render, err := transform.Convert(teme)
	if err != nil {
		return propagateResult{name: prop.Name(), err: err}
	}

	return propagateResult{
		name: prop.Name(),
		position: SatellitePosition{
			Name:     prop.Name(),
			NORADID:  prop.NORADID(),
			Inertial: teme,
			Render:   render,
		},
	}
}
