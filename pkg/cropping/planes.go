// Package cropping converts index-space crop boxes into world-space clipping
// planes oriented by a volume's direction cosines.
package cropping

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"volumeview/internal/models"
)

// DefaultTolerance bounds how far the normalized index axes may deviate
// from an orthonormal frame before the transform is rejected.
const DefaultTolerance = 1e-6

// determinants below this are treated as a non-invertible transform
const singularDeterminant = 1e-12

// ErrTransform reports an index to world transform with no usable rotation
var ErrTransform = errors.New("malformed index to world transform")

// ErrBounds reports a crop box with a NaN or infinite coordinate
var ErrBounds = errors.New("crop bounds must be finite")

// Bounds is an index-space box (iMin, iMax, jMin, jMax, kMin, kMax)
type Bounds [6]float64

// FullBounds covers every voxel of a grid with the given dimensions
func FullBounds(dims [3]int) Bounds {
	return Bounds{0, float64(dims[0] - 1), 0, float64(dims[1] - 1), 0, float64(dims[2] - 1)}
}

// Validate fails with ErrBounds unless every coordinate is finite
func (b Bounds) Validate() error {
	for i, x := range b {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: coordinate %d is %g", ErrBounds, i, x)
		}
	}
	return nil
}

// Min returns the lower index corner
func (b Bounds) Min() r3.Vec { return r3.Vec{X: b[0], Y: b[2], Z: b[4]} }

// Max returns the upper index corner
func (b Bounds) Max() r3.Vec { return r3.Vec{X: b[1], Y: b[3], Z: b[5]} }

// Plane is a world-space half-space boundary. Points on the side the
// normal points to are kept.
type Plane struct {
	Normal r3.Vec
	Origin r3.Vec
}

// SignedDistance is positive on the kept side of the plane
func (p Plane) SignedDistance(point r3.Vec) float64 {
	return r3.Dot(p.Normal, r3.Sub(point, p.Origin))
}

// Inside reports whether point lies on the kept side of every plane,
// allowing eps of slack.
func Inside(planes []Plane, point r3.Vec, eps float64) bool {
	for _, p := range planes {
		if p.SignedDistance(point) < -eps {
			return false
		}
	}
	return true
}

// Transform computes clipping planes. The zero value uses DefaultTolerance.
type Transform struct {
	// Tolerance for the orthonormality check of the index axes
	Tolerance float64
}

func (t Transform) tolerance() float64 {
	if t.Tolerance > 0 {
		return t.Tolerance
	}
	return DefaultTolerance
}

// Rotation extracts the orientation of v's index to world transform as a
// unit quaternion. Translation and per-axis scale are discarded. Singular,
// sheared or mirrored transforms fail with ErrTransform.
func (t Transform) Rotation(v *models.Volume) (quat.Number, error) {
	spacing := v.Spacing
	var m mat.Dense
	m.Mul(v.DirectionMatrix(), mat.NewDiagDense(3, spacing[:]))

	det := mat.Det(&m)
	if math.IsNaN(det) || math.Abs(det) < singularDeterminant {
		return quat.Number{}, fmt.Errorf("%w: volume %q is not invertible (det %g)", ErrTransform, v.ID, det)
	}

	r := mat.NewDense(3, 3, nil)
	for c := 0; c < 3; c++ {
		col := mat.Col(nil, c, &m)
		norm := math.Sqrt(col[0]*col[0] + col[1]*col[1] + col[2]*col[2])
		for row := 0; row < 3; row++ {
			r.Set(row, c, col[row]/norm)
		}
	}

	var gram mat.Dense
	gram.Mul(r.T(), r)
	if !mat.EqualApprox(&gram, mat.NewDiagDense(3, []float64{1, 1, 1}), t.tolerance()) {
		return quat.Number{}, fmt.Errorf("%w: volume %q index axes are not orthogonal", ErrTransform, v.ID)
	}
	if mat.Det(r) < 0 {
		return quat.Number{}, fmt.Errorf("%w: volume %q direction is a reflection", ErrTransform, v.ID)
	}

	return matrixToQuat(r), nil
}

// matrixToQuat converts a proper rotation matrix to a unit quaternion
func matrixToQuat(r mat.Matrix) quat.Number {
	m00, m01, m02 := r.At(0, 0), r.At(0, 1), r.At(0, 2)
	m10, m11, m12 := r.At(1, 0), r.At(1, 1), r.At(1, 2)
	m20, m21, m22 := r.At(2, 0), r.At(2, 1), r.At(2, 2)

	var q quat.Number
	switch trace := m00 + m11 + m22; {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// Planes returns the six clipping planes bounding b, grouped by index axis:
// (+i at the min corner, -i at the max corner), then j, then k. No
// clamping is done; equal min and max give a coincident pair.
func (t Transform) Planes(v *models.Volume, b Bounds) ([6]Plane, error) {
	if err := b.Validate(); err != nil {
		return [6]Plane{}, err
	}
	q, err := t.Rotation(v)
	if err != nil {
		return [6]Plane{}, err
	}
	rot := r3.Rotation(q)

	origin := v.IndexToWorld(b.Min())
	corner := v.IndexToWorld(b.Max())

	axes := [3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}
	var planes [6]Plane
	for a, axis := range axes {
		planes[2*a] = Plane{Normal: rot.Rotate(axis), Origin: origin}
		planes[2*a+1] = Plane{Normal: rot.Rotate(r3.Scale(-1, axis)), Origin: corner}
	}
	return planes, nil
}

// Planes computes clipping planes with the default tolerance
func Planes(v *models.Volume, b Bounds) ([6]Plane, error) {
	return Transform{}.Planes(v, b)
}
