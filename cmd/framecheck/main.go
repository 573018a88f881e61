// Command framecheck propagates a small population of cached satellites over
// one orbit each and checks that the render "up" axis follows the polar axis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/star/orbview/internal/propagation"
	"github.com/star/orbview/internal/tle"
	"github.com/star/orbview/internal/transform"
)

// flatThresholdKm flags trajectories whose up span is suspiciously small.
const flatThresholdKm = 100.0

type options struct {
	cachePath string
	maxAge    time.Duration
	samples   int
	targets   []float64
	tolerance float64
	minMotion float64
	maxMotion float64
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	opts := options{
		targets: []float64{0, 30, 60, 90},
	}
	flag.StringVar(&opts.cachePath, "cache", tle.DefaultCachePath, "TLE cache file")
	flag.DurationVar(&opts.maxAge, "max-age", 7*24*time.Hour, "accept cached snapshots up to this age")
	flag.IntVar(&opts.samples, "samples", 360, "samples per orbit")
	flag.Float64Var(&opts.tolerance, "tolerance", 5, "max distance in degrees from a target inclination")
	flag.Float64Var(&opts.minMotion, "min-motion", 14, "minimum mean motion (rev/day) of selected objects")
	flag.Float64Var(&opts.maxMotion, "max-motion", 16, "maximum mean motion (rev/day) of selected objects")
	flag.Parse()

	cache := tle.NewFileCache(tle.FileCacheConfig{Path: opts.cachePath, MaxAge: opts.maxAge})
	snap, err := cache.Load(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR loading TLE cache:", err)
		if tle.IsMiss(err) {
			fmt.Fprintln(os.Stderr, "run orbview once (or POST /api/v1/tle/refresh) to populate it")
		}
		os.Exit(1)
	}

	if err := run(os.Stdout, snap, opts, logger); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

// candidate is a record with its parsed orbital shape.
type candidate struct {
	prop *propagation.SGP4Propagator
	incl float64
}

// selectPopulation picks, for each target inclination, the object in the mean
// motion band whose inclination is closest to the target (within tolerance).
// Keeping the band narrow keeps orbit radii similar so up ranges are
// comparable across objects.
func selectPopulation(snap *tle.Snapshot, opts options, logger *slog.Logger) []*propagation.SGP4Propagator {
	names := make([]string, 0, len(snap.Data))
	for name := range snap.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	var pool []candidate
	for _, name := range names {
		r := snap.Data[name]
		n, err := r.MeanMotion()
		if err != nil || n < opts.minMotion || n > opts.maxMotion {
			continue
		}
		r.Name = name
		p, err := propagation.NewSGP4Propagator(r)
		if err != nil {
			logger.Debug("skipping record", "name", name, "error", err)
			continue
		}
		pool = append(pool, candidate{prop: p, incl: p.InclinationDeg()})
	}

	var picked []*propagation.SGP4Propagator
	used := make(map[*propagation.SGP4Propagator]bool)
	for _, target := range opts.targets {
		var best *candidate
		for i := range pool {
			c := &pool[i]
			d := math.Abs(c.incl - target)
			if d > opts.tolerance || used[c.prop] {
				continue
			}
			if best == nil || d < math.Abs(best.incl-target) {
				best = c
			}
		}
		if best == nil {
			logger.Warn("no object near target inclination", "target_deg", target)
			continue
		}
		used[best.prop] = true
		picked = append(picked, best.prop)
	}
	return picked
}

// run analyzes the selected population, writes a report to w and returns the
// validation result.
func run(w io.Writer, snap *tle.Snapshot, opts options, logger *slog.Logger) error {
	population := selectPopulation(snap, opts, logger)
	if len(population) < 2 {
		return fmt.Errorf("need at least 2 objects to compare, found %d", len(population))
	}

	var stats []transform.TrajectoryStats
	for _, p := range population {
		// Sample from the element epoch so every object is inside its window.
		s, err := propagation.AnalyzeOrbit(p, p.Epoch(), opts.samples)
		if err != nil {
			logger.Warn("skipping object", "name", p.Name(), "error", err)
			continue
		}
		stats = append(stats, s)
	}
	if len(stats) < 2 {
		return errors.New("fewer than 2 objects could be propagated")
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINCL\tUP MIN\tUP MAX\tUP SPAN\tRIGHT SPAN\tFORWARD SPAN\tZ VAR\tUP VAR\t")
	for _, s := range stats {
		up := s.Render[transform.AxisUp]
		mark := ""
		if s.InclinationDeg >= 1 && s.Flat(flatThresholdKm) {
			mark = "FLAT"
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.4g\t%.4g\t%s\n",
			s.Name, s.InclinationDeg, up.Min, up.Max, up.Range(),
			s.Render[transform.AxisRight].Range(), s.Render[transform.AxisForward].Range(),
			s.Inertial[2].Variance, up.Variance, mark)
	}
	tw.Flush()

	zVar := make([]float64, len(stats))
	upVar := make([]float64, len(stats))
	for i, s := range stats {
		zVar[i] = s.Inertial[2].Variance
		upVar[i] = s.Render[transform.AxisUp].Variance
	}
	if r, ok := transform.Correlation(zVar, upVar); ok {
		fmt.Fprintf(w, "\npolar/up variance correlation: %.6f\n", r)
	}

	return transform.ValidateInclinationResponse(stats, transform.DefaultValidationConfig())
}
