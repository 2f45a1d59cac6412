package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is one result of a nearest neighbour query.
type Neighbor struct {
	Index    int
	Distance float64
}

// KDTree answers nearest neighbour queries against the positions of a cloud. It is safe for
// concurrent queries once built.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// NewKDTree builds a tree over the current points of pc. Points appended to pc later are
// not indexed.
func NewKDTree(pc PointCloud) *KDTree {
	points := make(kdPoints, 0, pc.Size())
	pc.Iterate(0, 0, func(i int, p r3.Vector, _ Data) bool {
		points = append(points, kdPoint{Vector: p, index: i})
		return true
	})
	if len(points) == 0 {
		return &KDTree{tree: &kdtree.Tree{}}
	}
	return &KDTree{tree: kdtree.New(points, false), size: len(points)}
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.size
}

// Nearest returns the closest indexed point to p. Among points at the same distance the one
// with the lowest index wins. ok is false for an empty tree.
func (kd *KDTree) Nearest(p r3.Vector) (Neighbor, bool) {
	if kd.size == 0 {
		return Neighbor{}, false
	}
	c, dist := kd.tree.Nearest(kdPoint{Vector: p})
	if c == nil {
		return Neighbor{}, false
	}
	best := kd.within(p, dist)
	if len(best) == 0 {
		return Neighbor{Index: c.(kdPoint).index, Distance: math.Sqrt(dist)}, true
	}
	return best[0], true
}

// KNearest returns up to k indexed points closest to p, nearest first. Ties are broken by
// index, so the same query always returns the same points.
func (kd *KDTree) KNearest(p r3.Vector, k int) []Neighbor {
	if kd.size == 0 || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keeper, kdPoint{Vector: p})

	// the k-th distance bounds the candidates; every point at exactly that distance is a
	// candidate too, whichever of them the keeper happened to retain
	radius := -1.0
	for _, cd := range keeper.Heap {
		if cd.Comparable != nil && cd.Dist > radius {
			radius = cd.Dist
		}
	}
	if radius < 0 {
		return nil
	}
	out := kd.within(p, radius)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// within returns every indexed point whose squared distance to p is at most dist2, ordered
// by distance and then index.
func (kd *KDTree) within(p r3.Vector, dist2 float64) []Neighbor {
	keeper := kdtree.NewDistKeeper(dist2)
	kd.tree.NearestSet(keeper, kdPoint{Vector: p})

	out := make([]Neighbor, 0, keeper.Len())
	for _, cd := range keeper.Heap {
		// the keeper is seeded with an empty sentinel
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: cd.Comparable.(kdPoint).index, Distance: math.Sqrt(cd.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].Index < out[j].Index
		}
		return out[i].Distance < out[j].Distance
	})
	return out
}

// kdPoint is a position remembering its index in the source cloud.
type kdPoint struct {
	r3.Vector
	index int
}

func (p kdPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

// Compare returns the signed distance of p from the plane passing through c and
// perpendicular to the dimension d.
func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(kdPoint).coord(d)
}

// Dims returns the number of dimensions described by the receiver.
func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between p and c.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	return p.Sub(c.(kdPoint).Vector).Norm2()
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int                { return kdPlane{Dim: d, kdPoints: p}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// kdPlane sorts a kdPoints slice along one dimension.
type kdPlane struct {
	kdtree.Dim
	kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	a, b := p.kdPoints[i].coord(p.Dim), p.kdPoints[j].coord(p.Dim)
	if a == b {
		return p.kdPoints[i].index < p.kdPoints[j].index
	}
	return a < b
}

// Pivot sorts along the dimension and returns the median, so the same points always build
// the same tree.
func (p kdPlane) Pivot() int {
	sort.Sort(p)
	return p.Len() / 2
}
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}
func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}
