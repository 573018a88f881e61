package transform

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Axis indexes for AxisStats arrays.
const (
	AxisRight = iota
	AxisUp
	AxisForward
)

// AxisStats summarizes one coordinate axis over a trajectory.
type AxisStats struct {
	Min, Max, Mean, Variance float64
}

// Range returns Max - Min.
func (a AxisStats) Range() float64 {
	return a.Max - a.Min
}

// TrajectoryStats holds per-axis statistics for one object over a sampled
// trajectory, in both the inertial and render frames.
// Inertial is indexed X, Y, Z; Render is indexed Right, Up, Forward.
type TrajectoryStats struct {
	Name           string
	InclinationDeg float64
	Samples        int
	Inertial       [3]AxisStats
	Render         [3]AxisStats
}

// UpRange returns the render "up" span.
func (s TrajectoryStats) UpRange() float64 {
	return s.Render[AxisUp].Range()
}

// InPlaneRange returns the larger span of the two non-up render axes.
func (s TrajectoryStats) InPlaneRange() float64 {
	return math.Max(s.Render[AxisRight].Range(), s.Render[AxisForward].Range())
}

// Flat reports whether the up span is below threshold (km). A flat trajectory
// for an inclined object means the polar component was lost.
func (s TrajectoryStats) Flat(threshold float64) bool {
	return s.UpRange() < threshold
}

// AnalyzeTrajectory converts every sample into render space and computes
// per-axis statistics in both frames.
func AnalyzeTrajectory(name string, inclinationDeg float64, samples []InertialPosition) (TrajectoryStats, error) {
	if len(samples) == 0 {
		return TrajectoryStats{}, fmt.Errorf("trajectory %q has no samples", name)
	}

	var inertial, render [3][]float64
	for i := range inertial {
		inertial[i] = make([]float64, 0, len(samples))
		render[i] = make([]float64, 0, len(samples))
	}

	for i, p := range samples {
		r, err := Convert(p)
		if err != nil {
			return TrajectoryStats{}, fmt.Errorf("trajectory %q sample %d: %w", name, i, err)
		}
		inertial[0] = append(inertial[0], p.X)
		inertial[1] = append(inertial[1], p.Y)
		inertial[2] = append(inertial[2], p.Z)
		render[AxisRight] = append(render[AxisRight], r.Right)
		render[AxisUp] = append(render[AxisUp], r.Up)
		render[AxisForward] = append(render[AxisForward], r.Forward)
	}

	stats := TrajectoryStats{
		Name:           name,
		InclinationDeg: inclinationDeg,
		Samples:        len(samples),
	}
	for i := 0; i < 3; i++ {
		stats.Inertial[i] = axisStats(inertial[i])
		stats.Render[i] = axisStats(render[i])
	}
	return stats, nil
}

func axisStats(values []float64) AxisStats {
	a := AxisStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range values {
		a.Min = math.Min(a.Min, v)
		a.Max = math.Max(a.Max, v)
		sum += v
	}
	a.Mean = sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - a.Mean
		ss += d * d
	}
	a.Variance = ss / float64(len(values))
	return a
}

// ValidationConfig holds the thresholds for ValidateInclinationResponse.
type ValidationConfig struct {
	// VarianceTolerance is the allowed relative difference between inertial Z
	// variance and render Up variance for a single object.
	VarianceTolerance float64
	// MinCorrelation is the minimum Pearson correlation between inertial Z
	// variance and render Up variance across the population.
	MinCorrelation float64
	// EquatorialInclinationDeg: objects whose orbit plane is tilted less than
	// this from the equator are equatorial (covers retrograde orbits near 180).
	EquatorialInclinationDeg float64
	// EquatorialUpFraction bounds an equatorial object's Up range relative to
	// its in-plane range.
	EquatorialUpFraction float64
	// MinUpResponse is the minimum ratio of Up range to sin(i) * in-plane range
	// for inclined objects. A circular orbit gives exactly 1.
	MinUpResponse float64
}

// DefaultValidationConfig returns thresholds suitable for near-circular LEO orbits.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		VarianceTolerance:        1e-9,
		MinCorrelation:           0.99,
		EquatorialInclinationDeg: 1.0,
		EquatorialUpFraction:     0.02,
		MinUpResponse:            0.8,
	}
}

// ValidateInclinationResponse checks that render "up" carries the polar-axis
// variation across a population of objects with known inclinations:
//   - each object's Up variance matches its inertial Z variance
//   - Z variance and Up variance are correlated across the population
//   - Up range increases strictly with the orbit plane's tilt from the
//     equator (inclination folded into 0-90, so 120 ranks with 60)
//   - equatorial objects stay flat, inclined objects show proportional Up excursions
//
// All failures are joined into the returned error.
func ValidateInclinationResponse(stats []TrajectoryStats, cfg ValidationConfig) error {
	if len(stats) == 0 {
		return errors.New("no trajectories to validate")
	}

	var errs []error

	zVar := make([]float64, len(stats))
	upVar := make([]float64, len(stats))
	for i, s := range stats {
		zVar[i] = s.Inertial[2].Variance
		upVar[i] = s.Render[AxisUp].Variance

		scale := math.Max(math.Max(zVar[i], upVar[i]), 1)
		if math.Abs(zVar[i]-upVar[i]) > cfg.VarianceTolerance*scale {
			errs = append(errs, fmt.Errorf("%s: up variance %.3f does not match polar variance %.3f",
				s.Name, upVar[i], zVar[i]))
		}

		inPlane := s.InPlaneRange()
		sinI := math.Abs(math.Sin(s.InclinationDeg * math.Pi / 180.0))
		if orbitTilt(s.InclinationDeg) < cfg.EquatorialInclinationDeg {
			if s.UpRange() > cfg.EquatorialUpFraction*inPlane {
				errs = append(errs, fmt.Errorf("%s: equatorial object has up range %.1f km (in-plane %.1f km)",
					s.Name, s.UpRange(), inPlane))
			}
			continue
		}
		if s.UpRange() < cfg.MinUpResponse*sinI*inPlane {
			errs = append(errs, fmt.Errorf("%s: inclination %.1f deg but up range only %.1f km (in-plane %.1f km)",
				s.Name, s.InclinationDeg, s.UpRange(), inPlane))
		}
	}

	if r, ok := Correlation(zVar, upVar); ok && r < cfg.MinCorrelation {
		errs = append(errs, fmt.Errorf("polar/up variance correlation %.4f below %.4f", r, cfg.MinCorrelation))
	}

	sorted := make([]TrajectoryStats, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return orbitTilt(sorted[i].InclinationDeg) < orbitTilt(sorted[j].InclinationDeg)
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if math.Abs(orbitTilt(cur.InclinationDeg)-orbitTilt(prev.InclinationDeg)) < tiltEpsilonDeg {
			continue
		}
		if cur.UpRange() <= prev.UpRange() {
			errs = append(errs, fmt.Errorf("up range not increasing with inclination: %s (%.1f deg) %.1f km <= %s (%.1f deg) %.1f km",
				cur.Name, cur.InclinationDeg, cur.UpRange(), prev.Name, prev.InclinationDeg, prev.UpRange()))
		}
	}

	return errors.Join(errs...)
}

// tiltEpsilonDeg treats tilts this close as equal.
const tiltEpsilonDeg = 1e-6

// orbitTilt folds an inclination into the angle between the orbit plane and
// the equator, 0 to 90 degrees. Up range scales with |sin i|, which is
// symmetric about 90, so 120 and 60 produce the same span.
func orbitTilt(inclDeg float64) float64 {
	t := math.Mod(math.Abs(inclDeg), 180)
	if t > 90 {
		t = 180 - t
	}
	return t
}

// Correlation returns the Pearson correlation coefficient of xs and ys.
// ok is false when the slices differ in length, have fewer than two values,
// or either series is constant.
func Correlation(xs, ys []float64) (r float64, ok bool) {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0, false
	}
	n := float64(len(xs))
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= n
	my /= n

	var sxy, sxx, syy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}
