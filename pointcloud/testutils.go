package pointcloud

import (
	"github.com/golang/geo/r3"
)

// MakeTestCorner creates three orthogonal square planes meeting at origin, sampled on a grid
// with the given spacing and extent. The planes are z=0, x=0 and y=0 and no two share a
// point. When withNormals is set each point carries its exact plane normal, oriented toward
// the inside of the corner.
func MakeTestCorner(spacing, extent float64, withNormals bool) PointCloud {
	var steps []float64
	for v := spacing; v <= extent+spacing/2; v += spacing {
		steps = append(steps, v)
	}
	pc := NewWithPrealloc(3 * len(steps) * len(steps))
	data := func(n r3.Vector) Data {
		if withNormals {
			return NewNormalData(n, 0)
		}
		return NewBasicData()
	}
	for _, a := range steps {
		for _, b := range steps {
			pc.Append(r3.Vector{X: a, Y: b, Z: 0}, data(r3.Vector{Z: 1}))
			pc.Append(r3.Vector{X: 0, Y: a, Z: b}, data(r3.Vector{X: 1}))
			pc.Append(r3.Vector{X: a, Y: 0, Z: b}, data(r3.Vector{Y: 1}))
		}
	}
	return pc
}

// MakeTestPlane creates a grid on the plane z=height covering [minX,maxX]x[minY,maxY].
func MakeTestPlane(minX, maxX, minY, maxY, height, spacing float64) PointCloud {
	pc := New()
	for x := minX; x <= maxX+spacing/2; x += spacing {
		for y := minY; y <= maxY+spacing/2; y += spacing {
			pc.Append(r3.Vector{X: x, Y: y, Z: height}, NewBasicData())
		}
	}
	return pc
}
