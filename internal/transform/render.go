// Package transform provides coordinate frame transformations for satellite positions.
//
// The primary transform maps SGP4 output in TEME (True Equator Mean Equinox) into
// the renderer's local axes: X to the right, Y up, Z toward the viewer. Both frames
// are right-handed, so the mapping must be a proper rotation. TEME's polar axis
// becomes render "up":
//
//	Right   =  X
//	Up      =  Z
//	Forward = -Y
//
// This is a -90 degree rotation about X (determinant +1). The mapping was chosen
// by the inclination validation in validation.go: equatorial orbits stay flat in
// Up while polar orbits swing through the full orbit radius.
//
// The package also carries the Earth-fixed helpers used for ground tracks
// (GMST, TEME to ECEF, ECEF to geodetic).
package transform

import (
	"errors"
	"math"
)

// ErrNonFiniteInput is returned when a position component is NaN or infinite.
var ErrNonFiniteInput = errors.New("non-finite inertial position")

// InertialPosition is a position in the TEME frame (km). Z is the polar axis.
type InertialPosition struct {
	X, Y, Z float64
}

// RenderPosition is a position in the renderer frame (km).
type RenderPosition struct {
	Right, Up, Forward float64
}

// Norm returns the vector magnitude.
func (p InertialPosition) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Finite reports whether every component is a finite number.
func (p InertialPosition) Finite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
}

// Norm returns the vector magnitude.
func (p RenderPosition) Norm() float64 {
	return math.Sqrt(p.Right*p.Right + p.Up*p.Up + p.Forward*p.Forward)
}

// Vec returns the components as [Right, Up, Forward].
func (p RenderPosition) Vec() [3]float64 {
	return [3]float64{p.Right, p.Up, p.Forward}
}

// renderMatrix maps TEME (x, y, z) to render (right, up, forward).
var renderMatrix = Matrix3{
	{1, 0, 0},
	{0, 0, 1},
	{0, -1, 0},
}

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// Determinant returns det(m).
func (m Matrix3) Determinant() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Transpose returns the transposed matrix. For a rotation this is the inverse.
func (m Matrix3) Transpose() Matrix3 {
	var t Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = m[j][i]
		}
	}
	return t
}

// Apply multiplies m by the column vector v.
func (m Matrix3) Apply(v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// RenderMatrix returns the TEME to render rotation.
func RenderMatrix() Matrix3 {
	return renderMatrix
}

// Convert maps a TEME position into render axes.
// Returns ErrNonFiniteInput if any component is NaN or infinite; every finite
// input produces a finite output of the same magnitude.
func Convert(p InertialPosition) (RenderPosition, error) {
	if !p.Finite() {
		return RenderPosition{}, ErrNonFiniteInput
	}
	v := renderMatrix.Apply([3]float64{p.X, p.Y, p.Z})
	return RenderPosition{Right: v[0], Up: v[1], Forward: v[2]}, nil
}

// InverseConvert maps a render position back into TEME.
func InverseConvert(r RenderPosition) (InertialPosition, error) {
	v := renderMatrix.Transpose().Apply(r.Vec())
	p := InertialPosition{X: v[0], Y: v[1], Z: v[2]}
	if !p.Finite() {
		return InertialPosition{}, ErrNonFiniteInput
	}
	return p, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
