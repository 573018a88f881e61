package propagation

import (
	"time"

	"github.com/star/orbview/internal/transform"
)

// Frame holds the render-space positions of a set of satellites at one time.
type Frame struct {
	Timestamp  time.Time
	Satellites []SatellitePosition
	Failed     int
}

// SatellitePosition holds a single satellite's position at a frame time.
type SatellitePosition struct {
	Name     string
	NORADID  int
	Inertial transform.InertialPosition // km, TEME
	Render   transform.RenderPosition   // km, renderer axes
}

// PropConfig holds propagation configuration loaded from environment variables.
type PropConfig struct {
	Workers       int // Worker pool size (default: runtime.NumCPU())
	MaxSatellites int // Upper bound on satellites per frame (default: 10000)
}

// DefaultMaxSatellites bounds a single frame.
const DefaultMaxSatellites = 10000
