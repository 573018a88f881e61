// Package groundtrack computes sub-satellite ground tracks and encodes them as
// GeoJSON.
package groundtrack

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/star/orbview/internal/propagation"
	"github.com/star/orbview/internal/transform"
)

// MaxPoints bounds a single track.
const MaxPoints = 2000

// ErrTooManyPoints is returned when duration/step exceeds MaxPoints.
var ErrTooManyPoints = errors.New("ground track exceeds point budget")

// Track is a sampled ground track. Geometry is split at the antimeridian so
// that no segment spans more than 180 degrees of longitude.
type Track struct {
	Name     string
	NORADID  int
	Start    time.Time
	Step     time.Duration
	Geometry orb.MultiLineString
	// AltitudesKm holds one altitude per sample, in time order.
	AltitudesKm []float64
}

// Build propagates p from start over duration every step and projects each
// position onto the WGS-84 ellipsoid.
func Build(p *propagation.SGP4Propagator, start time.Time, duration, step time.Duration) (*Track, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %v", step)
	}
	if duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %v", duration)
	}
	n := int(duration/step) + 1
	if n > MaxPoints {
		return nil, fmt.Errorf("%d points (max %d): %w", n, MaxPoints, ErrTooManyPoints)
	}

	points := make([]orb.Point, 0, n)
	alts := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		t := start.Add(time.Duration(i) * step)
		teme, err := p.Propagate(t)
		if err != nil {
			return nil, fmt.Errorf("ground track point %d: %w", i, err)
		}
		geo := transform.ToEarthFixed(teme, t).Geodetic()
		points = append(points, orb.Point{geo.LonDeg, geo.LatDeg})
		alts = append(alts, geo.AltKm)
	}

	return &Track{
		Name:        p.Name(),
		NORADID:     p.NORADID(),
		Start:       start.UTC(),
		Step:        step,
		Geometry:    SplitAntimeridian(points),
		AltitudesKm: alts,
	}, nil
}

// SplitAntimeridian breaks a path of [lon, lat] points wherever consecutive
// longitudes jump by more than 180 degrees. The crossing latitude is linearly
// interpolated and each side gets an endpoint on ±180.
func SplitAntimeridian(points []orb.Point) orb.MultiLineString {
	if len(points) == 0 {
		return nil
	}

	var out orb.MultiLineString
	current := orb.LineString{points[0]}
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		delta := cur.Lon() - prev.Lon()

		if math.Abs(delta) <= 180 {
			current = append(current, cur)
			continue
		}

		// Eastward crossing (+179 -> -179) unwraps cur by +360; westward by -360.
		edge, unwrapped := 180.0, cur.Lon()+360
		if delta > 0 {
			edge, unwrapped = -180.0, cur.Lon()-360
		}
		frac := (edge - prev.Lon()) / (unwrapped - prev.Lon())
		lat := prev.Lat() + frac*(cur.Lat()-prev.Lat())

		current = append(current, orb.Point{edge, lat})
		out = append(out, current)
		current = orb.LineString{{-edge, lat}, cur}
	}
	return append(out, current)
}

// Feature wraps the track in a GeoJSON feature. A single segment is encoded as
// a LineString, several as a MultiLineString.
func (t *Track) Feature() *geojson.Feature {
	var geom orb.Geometry = t.Geometry
	if len(t.Geometry) == 1 {
		geom = t.Geometry[0]
	}

	f := geojson.NewFeature(geom)
	f.Properties["name"] = t.Name
	f.Properties["norad_id"] = t.NORADID
	f.Properties["start"] = t.Start.Format(time.RFC3339)
	f.Properties["step_seconds"] = t.Step.Seconds()
	f.Properties["points"] = len(t.AltitudesKm)
	f.Properties["altitudes_km"] = t.AltitudesKm
	return f
}
