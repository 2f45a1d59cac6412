// Package spatialmath defines the rotations and rigid transforms shared by the
// reconstruction pipeline.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// ErrZeroNormQuaternion is returned when a quaternion cannot be normalized.
var ErrZeroNormQuaternion = errors.New("quaternion has zero norm")

// ErrNonFiniteQuaternion is returned when a quaternion has a NaN or infinite component.
var ErrNonFiniteQuaternion = errors.New("quaternion has non-finite components")

// zeroNormEpsilon is the smallest quaternion magnitude accepted for normalization.
const zeroNormEpsilon = 1e-12

// IdentityQuaternion is the rotation that does nothing.
func IdentityQuaternion() quat.Number {
	return quat.Number{Real: 1}
}

// QuaternionIsFinite reports whether every component of q is a finite number.
func QuaternionIsFinite(q quat.Number) bool {
	for _, v := range [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// NormalizeQuaternion scales q to unit length. Non-finite and zero-norm inputs are errors.
func NormalizeQuaternion(q quat.Number) (quat.Number, error) {
	if !QuaternionIsFinite(q) {
		return quat.Number{}, ErrNonFiniteQuaternion
	}
	n := quat.Abs(q)
	if n < zeroNormEpsilon {
		return quat.Number{}, ErrZeroNormQuaternion
	}
	return quat.Scale(1/n, q), nil
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// QuaternionAlmostEqual reports whether a and b describe the same rotation within tol,
// treating q and -q as equal.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	near := func(p, q quat.Number) bool {
		return math.Abs(p.Real-q.Real) < tol &&
			math.Abs(p.Imag-q.Imag) < tol &&
			math.Abs(p.Jmag-q.Jmag) < tol &&
			math.Abs(p.Kmag-q.Kmag) < tol
	}
	return near(a, b) || near(a, Flip(b))
}

// QuatToRotationMatrix converts a unit quaternion to a 3x3 rotation matrix.
func QuatToRotationMatrix(q quat.Number) mgl64.Mat3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	var m mgl64.Mat3
	m.Set(0, 0, 1-2*(y*y+z*z))
	m.Set(0, 1, 2*(x*y-w*z))
	m.Set(0, 2, 2*(x*z+w*y))

	m.Set(1, 0, 2*(x*y+w*z))
	m.Set(1, 1, 1-2*(x*x+z*z))
	m.Set(1, 2, 2*(y*z-w*x))

	m.Set(2, 0, 2*(x*z-w*y))
	m.Set(2, 1, 2*(y*z+w*x))
	m.Set(2, 2, 1-2*(x*x+y*y))
	return m
}
