package spatialmath

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// RotationTolerance is the tolerance used when checking that a rotation block is orthonormal.
const RotationTolerance = 1e-6

// ErrNonFiniteTransform is returned when a transform contains a NaN or infinite entry.
var ErrNonFiniteTransform = errors.New("transform has non-finite entries")

// RigidTransform is a 4x4 homogeneous transform [R | t; 0 0 0 1].
// The zero value is not a valid transform; use NewIdentityTransform.
type RigidTransform struct {
	m mgl64.Mat4
}

// NewIdentityTransform returns the transform that leaves every point in place.
func NewIdentityTransform() RigidTransform {
	return RigidTransform{m: mgl64.Ident4()}
}

// NewTransformFromTranslation returns a transform with identity rotation and translation t.
func NewTransformFromTranslation(t r3.Vector) RigidTransform {
	return RigidTransform{m: mgl64.Translate3D(t.X, t.Y, t.Z)}
}

// NewRigidTransform assembles a transform from a rotation block and a translation.
func NewRigidTransform(rot mgl64.Mat3, t r3.Vector) RigidTransform {
	m := mgl64.Ident4()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m.Set(row, col, rot.At(row, col))
		}
	}
	m.Set(0, 3, t.X)
	m.Set(1, 3, t.Y)
	m.Set(2, 3, t.Z)
	return RigidTransform{m: m}
}

// NewTransformFromQuaternion builds a transform from a unit quaternion and a translation.
func NewTransformFromQuaternion(q quat.Number, t r3.Vector) RigidTransform {
	return NewRigidTransform(QuatToRotationMatrix(q), t)
}

// NewTransformFromMatrix wraps a homogeneous matrix. The matrix is not validated.
func NewTransformFromMatrix(m mgl64.Mat4) RigidTransform {
	return RigidTransform{m: m}
}

// Matrix returns the homogeneous 4x4 matrix.
func (rt RigidTransform) Matrix() mgl64.Mat4 {
	return rt.m
}

// At returns the matrix entry at row, col.
func (rt RigidTransform) At(row, col int) float64 {
	return rt.m.At(row, col)
}

// Rotation returns the upper left 3x3 block.
func (rt RigidTransform) Rotation() mgl64.Mat3 {
	return rt.m.Mat3()
}

// Translation returns the translation column.
func (rt RigidTransform) Translation() r3.Vector {
	return r3.Vector{X: rt.m.At(0, 3), Y: rt.m.At(1, 3), Z: rt.m.At(2, 3)}
}

// Apply transforms a point.
func (rt RigidTransform) Apply(p r3.Vector) r3.Vector {
	m := &rt.m
	return r3.Vector{
		X: m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		Y: m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		Z: m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
	}
}

// Rotate applies only the rotation block, as needed for normals and directions.
func (rt RigidTransform) Rotate(v r3.Vector) r3.Vector {
	m := &rt.m
	return r3.Vector{
		X: m[0]*v.X + m[4]*v.Y + m[8]*v.Z,
		Y: m[1]*v.X + m[5]*v.Y + m[9]*v.Z,
		Z: m[2]*v.X + m[6]*v.Y + m[10]*v.Z,
	}
}

// Compose returns rt * other, the transform that applies other first and then rt.
func (rt RigidTransform) Compose(other RigidTransform) RigidTransform {
	return RigidTransform{m: rt.m.Mul4(other.m)}
}

// Inverse returns the inverse rigid transform [Rᵀ | -Rᵀt].
func (rt RigidTransform) Inverse() RigidTransform {
	rotT := rt.Rotation().Transpose()
	t := rt.Translation()
	negT := rotT.Mul3x1(mgl64.Vec3{t.X, t.Y, t.Z}).Mul(-1)
	return NewRigidTransform(rotT, r3.Vector{X: negT[0], Y: negT[1], Z: negT[2]})
}

// IsFinite reports whether all sixteen entries are finite numbers.
func (rt RigidTransform) IsFinite() bool {
	for _, v := range rt.m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate returns an error when the transform is non-finite, has a non-orthonormal rotation
// block, a determinant other than +1 or a bottom row other than 0 0 0 1.
func (rt RigidTransform) Validate(tol float64) error {
	if !rt.IsFinite() {
		return ErrNonFiniteTransform
	}
	rot := rt.Rotation()
	orth := rot.Mul3(rot.Transpose()).Sub(mgl64.Ident3())
	if !withinTolerance(orth[:], tol) {
		return errors.New("rotation block is not orthonormal")
	}
	if det := rot.Det(); math.Abs(det-1) > tol {
		return errors.Errorf("rotation determinant is %f, expected 1", det)
	}
	bottom := rt.m.Row(3)
	if diff := bottom.Sub(mgl64.Vec4{0, 0, 0, 1}); !withinTolerance(diff[:], tol) {
		return errors.Errorf("bottom row is %v, expected 0 0 0 1", bottom)
	}
	return nil
}

// RotationAngle returns the angle in radians of the rotation block.
func (rt RigidTransform) RotationAngle() float64 {
	m := &rt.m
	cos := (m[0] + m[5] + m[10] - 1) / 2
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}

// AlmostEqual reports whether every entry of rt is within tol of other.
func (rt RigidTransform) AlmostEqual(other RigidTransform, tol float64) bool {
	diff := rt.m.Sub(other.m)
	return withinTolerance(diff[:], tol)
}

func withinTolerance(diff []float64, tol float64) bool {
	for _, v := range diff {
		if math.Abs(v) > tol {
			return false
		}
	}
	return true
}

// String formats the matrix row by row.
func (rt RigidTransform) String() string {
	rows := make([]string, 0, 4)
	for row := 0; row < 4; row++ {
		r := rt.m.Row(row)
		rows = append(rows, fmt.Sprintf("[%.6f %.6f %.6f %.6f]", r[0], r[1], r[2], r[3]))
	}
	return strings.Join(rows, " ")
}
