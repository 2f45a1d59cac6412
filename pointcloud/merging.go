package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// Copy returns a deep copy of the cloud with the same order.
func Copy(pc PointCloud) PointCloud {
	out := NewWithPrealloc(pc.Size())
	pc.Iterate(0, 0, func(_ int, p r3.Vector, d Data) bool {
		out.Append(p, d)
		return true
	})
	return out
}

// ApplyTransform returns a new cloud with every point moved by rt. Normals are rotated
// with the rotation block of rt.
func ApplyTransform(pc PointCloud, rt spatialmath.RigidTransform) PointCloud {
	out := NewWithPrealloc(pc.Size())
	pc.Iterate(0, 0, func(_ int, p r3.Vector, d Data) bool {
		if d.HasNormal() {
			d = d.SetNormal(rt.Rotate(d.Normal()), d.Curvature())
		}
		out.Append(rt.Apply(p), d)
		return true
	})
	return out
}

// AppendCloud appends every point of src to dst in order. No point is deduplicated, so
// overlapping regions grow denser with each merge.
func AppendCloud(dst, src PointCloud) {
	src.Iterate(0, 0, func(_ int, p r3.Vector, d Data) bool {
		dst.Append(p, d)
		return true
	})
}

// MergePointClouds returns the union of the given clouds in argument order.
func MergePointClouds(clouds ...PointCloud) PointCloud {
	total := 0
	for _, pc := range clouds {
		total += pc.Size()
	}
	out := NewWithPrealloc(total)
	for _, pc := range clouds {
		AppendCloud(out, pc)
	}
	return out
}

// Subset returns a cloud holding the points at the given indices, in that order.
func Subset(pc PointCloud, indices []int) (PointCloud, error) {
	out := NewWithPrealloc(len(indices))
	for _, i := range indices {
		if i < 0 || i >= pc.Size() {
			return nil, errors.Errorf("subset index %d out of range [0,%d)", i, pc.Size())
		}
		p, d := pc.At(i)
		out.Append(p, d)
	}
	return out, nil
}

// Positions returns the point positions in order.
func Positions(pc PointCloud) []r3.Vector {
	out := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(_ int, p r3.Vector, _ Data) bool {
		out = append(out, p)
		return true
	})
	return out
}

// CloudCentroid returns the centroid of a pointcloud as a vector.
func CloudCentroid(pc PointCloud) r3.Vector {
	return pc.MetaData().Center()
}

// LabelAll returns a copy of pc in which every point carries label.
func LabelAll(pc PointCloud, label int) PointCloud {
	out := NewWithPrealloc(pc.Size())
	pc.Iterate(0, 0, func(_ int, p r3.Vector, d Data) bool {
		out.Append(p, d.SetLabel(label))
		return true
	})
	return out
}
