package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)

	p0 := NewVector(0, 0, 0)
	d0 := NewLabelData(5)
	pc.Append(p0, d0)

	p1 := NewVector(1, 0, 1)
	d1 := NewLabelData(17)
	pc.Append(p1, d1)

	// duplicates are kept
	pc.Append(p1, d1)
	test.That(t, pc.Size(), test.ShouldEqual, 3)

	p, d := pc.At(0)
	test.That(t, p, test.ShouldResemble, p0)
	test.That(t, d, test.ShouldResemble, d0)
	p, d = pc.At(2)
	test.That(t, p, test.ShouldResemble, p1)
	test.That(t, d.Label(), test.ShouldEqual, 17)

	meta := pc.MetaData()
	test.That(t, meta.HasLabel, test.ShouldBeTrue)
	test.That(t, meta.HasNormal, test.ShouldBeFalse)
	minP, maxP := meta.Bounds()
	test.That(t, minP, test.ShouldResemble, r3.Vector{})
	test.That(t, maxP, test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 1})

	test.That(t, pc.SetData(1, d1.SetNormal(r3.Vector{Z: 1}, 0.1)), test.ShouldBeNil)
	test.That(t, pc.MetaData().HasNormal, test.ShouldBeTrue)
	_, d = pc.At(1)
	test.That(t, d.Normal(), test.ShouldResemble, r3.Vector{Z: 1})
	test.That(t, d.Curvature(), test.ShouldEqual, 0.1)
	test.That(t, d.HasLabel(), test.ShouldBeTrue)

	err := pc.SetData(3, d0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")
}

func TestEmptyMetaData(t *testing.T) {
	meta := New().MetaData()
	minP, maxP := meta.Bounds()
	test.That(t, minP, test.ShouldResemble, r3.Vector{})
	test.That(t, maxP, test.ShouldResemble, r3.Vector{})
	test.That(t, meta.Center(), test.ShouldResemble, r3.Vector{})
}

func TestPointCloudIterateBatches(t *testing.T) {
	pc := New()
	for i := 0; i < 10; i++ {
		pc.Append(NewVector(float64(i), 0, 0), NewBasicData())
	}

	seen := make([]int, 0, 10)
	for batch := 0; batch < 3; batch++ {
		pc.Iterate(3, batch, func(i int, p r3.Vector, _ Data) bool {
			test.That(t, p.X, test.ShouldEqual, float64(i))
			seen = append(seen, i)
			return true
		})
	}
	test.That(t, seen, test.ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	// more batches than points leaves the trailing batches empty
	count := 0
	pc.Iterate(20, 15, func(int, r3.Vector, Data) bool {
		count++
		return true
	})
	test.That(t, count, test.ShouldEqual, 0)

	count = 0
	pc.Iterate(0, 0, func(int, r3.Vector, Data) bool {
		count++
		return count < 4
	})
	test.That(t, count, test.ShouldEqual, 4)
}

func TestPointCloudCentroid(t *testing.T) {
	pc := NewFromPoints([]r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 2, Z: 3}, {X: 3, Y: 1, Z: 7}})
	c := CloudCentroid(pc)
	test.That(t, c.X, test.ShouldAlmostEqual, 8/3.0)
	test.That(t, c.Y, test.ShouldAlmostEqual, 5/3.0)
	test.That(t, c.Z, test.ShouldAlmostEqual, 13/3.0)
}

func TestApplyTransform(t *testing.T) {
	pc := New()
	pc.Append(NewVector(1, 0, 0), NewLabelData(0).SetNormal(r3.Vector{X: 1}, 0))
	pc.Append(NewVector(1, 1, 0), NewLabelData(1))
	pc.Append(NewVector(1, 1, 1), NewLabelData(2))

	// apply a simple translation
	moved := ApplyTransform(pc, spatialmath.NewTransformFromTranslation(r3.Vector{X: 0, Y: 99, Z: 0}))
	expected := []r3.Vector{{X: 1, Y: 99}, {X: 1, Y: 100}, {X: 1, Y: 100, Z: 1}}
	for i, want := range expected {
		p, d := moved.At(i)
		test.That(t, p.Sub(want).Norm(), test.ShouldBeLessThan, 1e-12)
		test.That(t, d.Label(), test.ShouldEqual, i)
	}
	_, d := moved.At(0)
	test.That(t, d.Normal(), test.ShouldResemble, r3.Vector{X: 1})

	// apply a translation and rotation
	rot := spatialmath.ExpMap(r3.Vector{Z: math.Pi / 2})
	transrot := spatialmath.NewTransformFromTranslation(r3.Vector{X: 0, Y: 99, Z: 0}).Compose(rot)
	moved = ApplyTransform(pc, transrot)
	expected = []r3.Vector{{X: 0, Y: 100}, {X: -1, Y: 100}, {X: -1, Y: 100, Z: 1}}
	for i, want := range expected {
		p, _ := moved.At(i)
		test.That(t, p.Sub(want).Norm(), test.ShouldBeLessThan, 1e-9)
	}
	_, d = moved.At(0)
	test.That(t, d.Normal().Sub(r3.Vector{Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)

	// the source is untouched
	p, _ := pc.At(0)
	test.That(t, p, test.ShouldResemble, NewVector(1, 0, 0))
}

func TestMergeCopySubset(t *testing.T) {
	a := NewFromPoints([]r3.Vector{{X: 0}, {X: 1}})
	b := NewFromPoints([]r3.Vector{{X: 1}, {X: 2}, {X: 3}})

	merged := MergePointClouds(a, b)
	test.That(t, merged.Size(), test.ShouldEqual, 5)
	test.That(t, Positions(merged), test.ShouldResemble, []r3.Vector{{X: 0}, {X: 1}, {X: 1}, {X: 2}, {X: 3}})

	cp := Copy(a)
	AppendCloud(cp, b)
	test.That(t, cp.Size(), test.ShouldEqual, 5)
	test.That(t, a.Size(), test.ShouldEqual, 2)
	minP, maxP := cp.MetaData().Bounds()
	test.That(t, minP.X, test.ShouldEqual, 0)
	test.That(t, maxP.X, test.ShouldEqual, 3)

	sub, err := Subset(merged, []int{4, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, Positions(sub), test.ShouldResemble, []r3.Vector{{X: 3}, {X: 0}})

	_, err = Subset(merged, []int{5})
	test.That(t, err, test.ShouldNotBeNil)

	labeled := LabelAll(b, 7)
	labeled.Iterate(0, 0, func(_ int, _ r3.Vector, d Data) bool {
		test.That(t, d.Label(), test.ShouldEqual, 7)
		return true
	})
	test.That(t, labeled.MetaData().HasLabel, test.ShouldBeTrue)
	test.That(t, b.MetaData().HasLabel, test.ShouldBeFalse)
}

func TestString(t *testing.T) {
	pc := New()
	pc.Append(NewVector(-1, 0, 2), NewLabelData(0))
	pc.Append(NewVector(3, 1, 0), NewLabelData(1))
	test.That(t, String(pc), test.ShouldStartWith, "2 points, bounds")
	test.That(t, String(pc), test.ShouldContainSubstring, "labels=true normals=false")
}
