package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// parallel slices of positions and data.
type basicPointCloud struct {
	points []r3.Vector
	data   []Data
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]r3.Vector, 0, size),
		data:   make([]Data, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a cloud holding the given positions, without labels or normals.
func NewFromPoints(points []r3.Vector) PointCloud {
	pc := NewWithPrealloc(len(points))
	for _, p := range points {
		pc.Append(p, NewBasicData())
	}
	return pc
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) Append(p r3.Vector, d Data) {
	cloud.points = append(cloud.points, p)
	cloud.data = append(cloud.data, d)
	cloud.meta.Merge(p, d)
}

func (cloud *basicPointCloud) At(i int) (r3.Vector, Data) {
	return cloud.points[i], cloud.data[i]
}

func (cloud *basicPointCloud) SetData(i int, d Data) error {
	if i < 0 || i >= len(cloud.data) {
		return errors.Errorf("point index %d out of range [0,%d)", i, len(cloud.data))
	}
	cloud.data[i] = d
	if d.HasLabel() {
		cloud.meta.HasLabel = true
	}
	if d.HasNormal() {
		cloud.meta.HasNormal = true
	}
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector, d Data) bool) {
	start, end := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		start = myBatch * batchSize
		end = start + batchSize
		if end > len(cloud.points) {
			end = len(cloud.points)
		}
	}
	for i := start; i < end; i++ {
		if !fn(i, cloud.points[i], cloud.data[i]) {
			return
		}
	}
}
