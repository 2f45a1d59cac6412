package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

// represent a 45 degree rotation around the x axis
var (
	th   = math.Pi / 4.
	q45x = quat.Number{Real: math.Cos(th / 2.), Imag: math.Sin(th / 2.)}
)

func TestIdentityTransform(t *testing.T) {
	id := NewIdentityTransform()
	test.That(t, id.Validate(RotationTolerance), test.ShouldBeNil)
	p := r3.Vector{X: 1, Y: -2, Z: 3}
	test.That(t, id.Apply(p), test.ShouldResemble, p)
	test.That(t, id.Translation(), test.ShouldResemble, r3.Vector{})
	test.That(t, id.RotationAngle(), test.ShouldAlmostEqual, 0)
}

func TestTransformApply(t *testing.T) {
	rt := NewTransformFromQuaternion(q45x, r3.Vector{X: 0, Y: 99, Z: 0})
	test.That(t, rt.Validate(RotationTolerance), test.ShouldBeNil)

	p := rt.Apply(r3.Vector{X: 0, Y: 1, Z: 0})
	test.That(t, p.X, test.ShouldAlmostEqual, 0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 99+math.Sqrt2/2)
	test.That(t, p.Z, test.ShouldAlmostEqual, math.Sqrt2/2)

	n := rt.Rotate(r3.Vector{X: 0, Y: 1, Z: 0})
	test.That(t, n.Norm(), test.ShouldAlmostEqual, 1)
	test.That(t, n.Y, test.ShouldAlmostEqual, math.Sqrt2/2)
	test.That(t, rt.RotationAngle(), test.ShouldAlmostEqual, th)
}

func TestTransformComposeInverse(t *testing.T) {
	a := NewTransformFromQuaternion(q45x, r3.Vector{X: 1, Y: 2, Z: 3})
	b := NewTransformFromTranslation(r3.Vector{X: -4, Y: 0, Z: 0.5})

	p := r3.Vector{X: 0.3, Y: -0.7, Z: 2}
	ab := a.Compose(b)
	expected := a.Apply(b.Apply(p))
	got := ab.Apply(p)
	test.That(t, got.Sub(expected).Norm(), test.ShouldBeLessThan, 1e-12)

	round := ab.Compose(ab.Inverse())
	test.That(t, round.AlmostEqual(NewIdentityTransform(), 1e-12), test.ShouldBeTrue)
}

func TestTransformValidate(t *testing.T) {
	nan := NewTransformFromTranslation(r3.Vector{X: math.NaN()})
	test.That(t, nan.IsFinite(), test.ShouldBeFalse)
	test.That(t, nan.Validate(RotationTolerance), test.ShouldBeError, ErrNonFiniteTransform)

	m := NewIdentityTransform().Matrix()
	m.Set(0, 0, 2)
	test.That(t, NewTransformFromMatrix(m).Validate(RotationTolerance), test.ShouldNotBeNil)

	// a reflection is orthonormal but has determinant -1
	m = NewIdentityTransform().Matrix()
	m.Set(2, 2, -1)
	err := NewTransformFromMatrix(m).Validate(RotationTolerance)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "determinant")
}

func TestNormalizeQuaternion(t *testing.T) {
	q, err := NormalizeQuaternion(quat.Number{Real: 2, Imag: 0, Jmag: 0, Kmag: 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q, test.ShouldResemble, IdentityQuaternion())

	_, err = NormalizeQuaternion(quat.Number{})
	test.That(t, err, test.ShouldBeError, ErrZeroNormQuaternion)

	_, err = NormalizeQuaternion(quat.Number{Real: math.Inf(1)})
	test.That(t, err, test.ShouldBeError, ErrNonFiniteQuaternion)
}

func TestQuaternionAlmostEqual(t *testing.T) {
	test.That(t, QuaternionAlmostEqual(q45x, Flip(q45x), 1e-9), test.ShouldBeTrue)
	test.That(t, QuaternionAlmostEqual(q45x, IdentityQuaternion(), 1e-9), test.ShouldBeFalse)
}

func TestExpMap(t *testing.T) {
	test.That(t, ExpMap(r3.Vector{}).AlmostEqual(NewIdentityTransform(), 0), test.ShouldBeTrue)

	rot := ExpMap(r3.Vector{X: 0, Y: 0, Z: math.Pi / 2})
	test.That(t, rot.Validate(RotationTolerance), test.ShouldBeNil)
	p := rot.Apply(r3.Vector{X: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 1)

	test.That(t, R3ToR4(r3.Vector{X: 0, Y: 2, Z: 0}).ToR3(), test.ShouldResemble, r3.Vector{X: 0, Y: 2, Z: 0})
}
