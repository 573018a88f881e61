package propagation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/star/orbview/internal/tle"
	"github.com/star/orbview/internal/transform"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go, explicit TEME output, and ships GSTimeFromDate/ECIToECEF which the
// transform tests use for cross-validation.
//
// Note: Propagate() takes Satellite by value so SGP4 error codes are not visible
// to the caller. We detect propagation failures by checking output for NaN/Inf
// and unreasonable position magnitudes.

// MaxEpochOffset is how far from the element set epoch Propagate will go.
// SGP4 error grows by kilometers per day; beyond a week the positions are not
// worth drawing.
const MaxEpochOffset = 7 * 24 * time.Hour

// Plausible geocentric distance for anything in a public TLE catalog.
const (
	minRadiusKm = 6200.0
	maxRadiusKm = 50000.0
)

// ErrOutsideEpochWindow is returned for target times more than MaxEpochOffset
// from the element set epoch.
var ErrOutsideEpochWindow = errors.New("target time outside TLE epoch window")

// SGP4Propagator wraps the go-satellite library for a single satellite.
// It is immutable after construction and safe for concurrent use.
type SGP4Propagator struct {
	sat         satellite.Satellite
	name        string
	noradID     int
	epoch       time.Time
	period      time.Duration
	inclination float64
}

// NewSGP4Propagator creates an SGP4 propagator from a TLE record.
// Returns an error if the TLE cannot be parsed or the SGP4 model fails to initialize.
//
// Pre-validates TLE format before passing to the library, because go-satellite
// calls log.Fatal on malformed input (which would kill the process).
func NewSGP4Propagator(r tle.Record) (*SGP4Propagator, error) {
	line1 := strings.TrimSpace(r.Line1)
	line2 := strings.TrimSpace(r.Line2)
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for %q: %w", r.Name, err)
	}

	r.Line1, r.Line2 = line1, line2
	noradID, err := r.NORADID()
	if err != nil {
		return nil, fmt.Errorf("invalid TLE for %q: %w", r.Name, err)
	}
	epoch, err := r.Epoch()
	if err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", noradID, err)
	}
	period, err := r.Period()
	if err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", noradID, err)
	}
	inclination, err := r.InclinationDeg()
	if err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", noradID, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{
		sat:         sat,
		name:        strings.TrimSpace(r.Name),
		noradID:     noradID,
		epoch:       epoch,
		period:      period,
		inclination: inclination,
	}, nil
}

// validateTLELines checks line shape and every numeric field go-satellite
// parses. The library calls log.Fatal on a field it cannot parse, so anything
// that reaches TLEToSat must already parse here.
func validateTLELines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	for _, f := range sgp4Fields(line1, line2) {
		var err error
		if f.integer {
			_, err = strconv.ParseInt(f.text, 10, 0)
		} else {
			_, err = strconv.ParseFloat(f.text, 64)
		}
		if err != nil {
			return fmt.Errorf("field %s %q: %w", f.name, f.text, err)
		}
	}
	return nil
}

type tleField struct {
	name    string
	text    string
	integer bool
}

// sgp4Fields extracts the fields exactly as go-satellite's ParseTLE builds
// them, including its assumed-decimal exponent forms and its two-space strip.
func sgp4Fields(line1, line2 string) []tleField {
	strip := func(s string) string { return strings.Replace(s, " ", "", 2) }
	return []tleField{
		{"catalog number", strings.TrimSpace(line1[2:7]), true},
		{"epoch year", line1[18:20], true},
		{"epoch day", line1[20:32], false},
		{"mean motion dot", strip(line1[33:43]), false},
		{"mean motion ddot", strip(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52]), false},
		{"bstar", strip(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61]), false},
		{"inclination", strip(line2[8:16]), false},
		{"raan", strip(line2[17:25]), false},
		{"eccentricity", "." + line2[26:33], false},
		{"argument of perigee", strip(line2[34:42]), false},
		{"mean anomaly", strip(line2[43:51]), false},
		{"mean motion", strip(line2[52:63]), false},
	}
}

func (p *SGP4Propagator) Name() string            { return p.name }
func (p *SGP4Propagator) NORADID() int            { return p.noradID }
func (p *SGP4Propagator) Epoch() time.Time        { return p.epoch }
func (p *SGP4Propagator) Period() time.Duration   { return p.period }
func (p *SGP4Propagator) InclinationDeg() float64 { return p.inclination }

// Propagate computes the satellite position in the TEME frame (km) at t.
// go-satellite takes whole seconds, so t is truncated to the second.
func (p *SGP4Propagator) Propagate(t time.Time) (transform.InertialPosition, error) {
	t = t.UTC()
	if offset := t.Sub(p.epoch); offset > MaxEpochOffset || offset < -MaxEpochOffset {
		return transform.InertialPosition{}, fmt.Errorf("NORAD %d at %s (epoch %s): %w",
			p.noradID, t.Format(time.RFC3339), p.epoch.Format(time.RFC3339), ErrOutsideEpochWindow)
	}

	pos, _ := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	out := transform.InertialPosition{X: pos.X, Y: pos.Y, Z: pos.Z}

	// Detect propagation failures via NaN/Inf check.
	if !out.Finite() {
		return transform.InertialPosition{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", p.noradID)
	}

	if mag := out.Norm(); mag < minRadiusKm || mag > maxRadiusKm {
		return transform.InertialPosition{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.noradID, mag)
	}

	return out, nil
}

// SampleOrbit propagates p at samples evenly spaced times covering one orbital
// period from start.
func SampleOrbit(p *SGP4Propagator, start time.Time, samples int) ([]transform.InertialPosition, error) {
	if samples < 2 {
		return nil, fmt.Errorf("need at least 2 samples, got %d", samples)
	}
	step := p.period / time.Duration(samples)
	out := make([]transform.InertialPosition, 0, samples)
	for i := 0; i < samples; i++ {
		pos, err := p.Propagate(start.Add(time.Duration(i) * step))
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out = append(out, pos)
	}
	return out, nil
}

// AnalyzeOrbit samples one period from start and computes the frame statistics
// used by transform.ValidateInclinationResponse.
func AnalyzeOrbit(p *SGP4Propagator, start time.Time, samples int) (transform.TrajectoryStats, error) {
	positions, err := SampleOrbit(p, start, samples)
	if err != nil {
		return transform.TrajectoryStats{}, fmt.Errorf("sampling %s: %w", p.name, err)
	}
	return transform.AnalyzeTrajectory(p.name, p.inclination, positions)
}
