// Package pointcloud defines an ordered point cloud and provides an implementation for one.
//
// Points keep their insertion order and duplicates are allowed, so merging two clouds is a
// plain union. Each point may carry an integer label recording where it came from and a
// surface normal with its curvature.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasLabel  bool
	HasNormal bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
	count                  int
}

// PointCloud is an ordered container of points. Index i always refers to the i-th
// appended point.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data.
	MetaData() MetaData

	// Append adds a point to the end of the cloud.
	Append(p r3.Vector, d Data)

	// At returns the position and data of the point at index i.
	At(i int) (r3.Vector, Data)

	// SetData replaces the data of the point at index i.
	SetData(i int, d Data) error

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector, d Data) bool)
}

// NewMetaData creates a new MetaData with an empty bounding box.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data.HasLabel() {
		meta.HasLabel = true
	}
	if data.HasNormal() {
		meta.HasNormal = true
	}

	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}

	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
	meta.count++
}

// Center returns the center of the points.
func (meta MetaData) Center() r3.Vector {
	if meta.count == 0 {
		return r3.Vector{}
	}
	n := float64(meta.count)
	return r3.Vector{X: meta.totalX / n, Y: meta.totalY / n, Z: meta.totalZ / n}
}

// Bounds returns the minimum and maximum corners of the axis aligned bounding box.
// Both are zero for an empty cloud.
func (meta MetaData) Bounds() (r3.Vector, r3.Vector) {
	if meta.count == 0 {
		return r3.Vector{}, r3.Vector{}
	}
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ},
		r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}
