// Package rig turns calibrated sensor rotations into rigid transforms of the scanning rig.
// The sensor sits at a fixed offset from the joint it rotates about, so every rotation also
// moves the sensor by R * offset.
package rig

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// DefaultPivotOffset is the displacement in metres from the rotation joint to the LiDAR.
var DefaultPivotOffset = r3.Vector{X: 0, Y: 0, Z: 0.101}

// Builder builds transforms for one rig.
type Builder struct {
	offset r3.Vector
}

// NewBuilder returns a builder for a rig whose sensor sits at offset from its pivot.
func NewBuilder(offset r3.Vector) *Builder {
	return &Builder{offset: offset}
}

// Offset returns the pivot offset of the rig.
func (b *Builder) Offset() r3.Vector {
	return b.offset
}

// Transform returns [R | R*offset] for the rotation q. q is normalized first; zero-norm and
// non-finite quaternions are errors, as is a result that is not a proper rigid transform.
func (b *Builder) Transform(q quat.Number) (spatialmath.RigidTransform, error) {
	unit, err := spatialmath.NormalizeQuaternion(q)
	if err != nil {
		return spatialmath.RigidTransform{}, err
	}
	rot := spatialmath.QuatToRotationMatrix(unit)
	t := rot.Mul3x1(mgl64.Vec3{b.offset.X, b.offset.Y, b.offset.Z})
	rt := spatialmath.NewRigidTransform(rot, r3.Vector{X: t[0], Y: t[1], Z: t[2]})
	if err := rt.Validate(spatialmath.RotationTolerance); err != nil {
		return spatialmath.RigidTransform{}, errors.Wrap(err, "rig transform")
	}
	return rt, nil
}

// Build converts each quaternion to a transform, in order.
func (b *Builder) Build(quats []quat.Number) ([]spatialmath.RigidTransform, error) {
	out := make([]spatialmath.RigidTransform, 0, len(quats))
	for i, q := range quats {
		rt, err := b.Transform(q)
		if err != nil {
			return nil, errors.Wrapf(err, "quaternion %d", i)
		}
		out = append(out, rt)
	}
	return out, nil
}
