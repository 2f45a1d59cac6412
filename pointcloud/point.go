package pointcloud

import (
	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes data associated single point within a PointCloud. It is a value type;
// the setters return an updated copy.
type Data struct {
	hasLabel bool
	label    int

	hasNormal bool
	normal    r3.Vector
	curvature float64
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return Data{}
}

// NewLabelData returns a point that has both position and a provenance label.
func NewLabelData(label int) Data {
	return Data{label: label, hasLabel: true}
}

// NewNormalData returns a point that has both position and a surface normal.
func NewNormalData(normal r3.Vector, curvature float64) Data {
	return Data{normal: normal, curvature: curvature, hasNormal: true}
}

// HasLabel returns whether or not this point has a label.
func (d Data) HasLabel() bool {
	return d.hasLabel
}

// Label returns the label, if it exists.
func (d Data) Label() int {
	return d.label
}

// SetLabel returns a copy of d carrying the given label.
func (d Data) SetLabel(label int) Data {
	d.hasLabel = true
	d.label = label
	return d
}

// HasNormal returns whether or not this point has an estimated normal.
func (d Data) HasNormal() bool {
	return d.hasNormal
}

// Normal returns the unit surface normal, if it exists.
func (d Data) Normal() r3.Vector {
	return d.normal
}

// Curvature returns the surface variation estimated alongside the normal.
func (d Data) Curvature() float64 {
	return d.curvature
}

// SetNormal returns a copy of d carrying the given normal and curvature.
func (d Data) SetNormal(normal r3.Vector, curvature float64) Data {
	d.hasNormal = true
	d.normal = normal
	d.curvature = curvature
	return d
}
