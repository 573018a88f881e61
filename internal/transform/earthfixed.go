package transform

import (
	"math"
	"time"
)

const (
	// jdJ2000 is the Julian Date of J2000.0 (2000-01-01 12:00 TT).
	jdJ2000 = 2451545.0
	// jdUnixEpoch is the Julian Date of 1970-01-01 00:00 UTC.
	jdUnixEpoch = 2440587.5
)

// WGS-84 ellipsoid, in km.
const (
	wgs84A  = 6378.137
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// EarthFixed is a position in the Earth-centered Earth-fixed frame (km).
type EarthFixed struct {
	X, Y, Z float64
}

// GeodeticPoint holds latitude/longitude in degrees and altitude above the
// WGS-84 ellipsoid in km.
type GeodeticPoint struct {
	LatDeg, LonDeg, AltKm float64
}

// JulianDate converts t to a Julian Date (UTC).
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	return jdUnixEpoch + float64(t.UnixNano())/float64(24*time.Hour)
}

// GMST returns Greenwich Mean Sidereal Time in radians, IAU-82 model
// (Vallado eq. 3-47), normalized to [0, 2π).
func GMST(t time.Time) float64 {
	tu := (JulianDate(t) - jdJ2000) / 36525.0

	// Seconds of time; 876600h = 3155760000 s.
	sec := 67310.54841 +
		(3155760000.0+8640184.812866)*tu +
		0.093104*tu*tu -
		6.2e-6*tu*tu*tu

	sec = math.Mod(sec, 86400.0)
	if sec < 0 {
		sec += 86400.0
	}
	return sec / 86400.0 * 2 * math.Pi
}

// ToEarthFixed rotates a TEME position into ECEF at time t.
// Polar motion and the equation of the equinoxes are ignored (tens of meters),
// which is below what a ground track can show.
func ToEarthFixed(p InertialPosition, t time.Time) EarthFixed {
	return ToEarthFixedWithGMST(p, GMST(t))
}

// ToEarthFixedWithGMST applies R3(gmst) to p. Use it when many positions share
// one epoch.
func ToEarthFixedWithGMST(p InertialPosition, gmst float64) EarthFixed {
	c, s := math.Cos(gmst), math.Sin(gmst)
	return EarthFixed{
		X: p.X*c + p.Y*s,
		Y: -p.X*s + p.Y*c,
		Z: p.Z,
	}
}

// Geodetic converts an ECEF position to latitude, longitude and altitude
// using Bowring's iteration. Converges in a few iterations for Earth orbits.
func (e EarthFixed) Geodetic() GeodeticPoint {
	lon := math.Atan2(e.Y, e.X)
	p := math.Hypot(e.X, e.Y)

	lat := math.Atan2(e.Z, p*(1-wgs84E2))
	var n float64
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n = wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(e.Z+wgs84E2*n*sinLat, p)
	}

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n = wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(e.Z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: lat * 180.0 / math.Pi,
		LonDeg: lon * 180.0 / math.Pi,
		AltKm:  alt,
	}
}
