package preprocess

import (
	"math"
	"math/rand"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
)

// DefaultSampleProportion is the share of points kept by the samplers.
const DefaultSampleProportion = 0.25

// DefaultNormalSpaceBins is the number of bins per normal axis.
const DefaultNormalSpaceBins = 4

// Sampler kinds understood by NewSampler.
const (
	NormalSpaceSampling = "normal_space"
	CovarianceSampling  = "covariance"
)

// ErrMissingNormals is returned when a sampler is given points without normals.
var ErrMissingNormals = errors.New("sampling requires every point to carry a normal")

// A Sampler reduces a cloud that carries normals to a subset of its points. The subset keeps
// the original order.
type Sampler interface {
	Sample(cloud pointcloud.PointCloud) (pointcloud.PointCloud, error)
}

// NewSampler returns the sampler of the given kind keeping proportion of the points.
func NewSampler(kind string, proportion float64) (Sampler, error) {
	if err := ValidateProportion(proportion); err != nil {
		return nil, err
	}
	switch kind {
	case NormalSpaceSampling:
		return &NormalSpaceSampler{Proportion: proportion, Bins: DefaultNormalSpaceBins}, nil
	case CovarianceSampling:
		return &CovarianceSampler{Proportion: proportion}, nil
	default:
		return nil, errors.Errorf("unknown sampler %q, expected %q or %q", kind, NormalSpaceSampling, CovarianceSampling)
	}
}

// ValidateProportion checks that proportion lies in (0,1].
func ValidateProportion(proportion float64) error {
	if !(proportion > 0 && proportion <= 1) {
		return errors.Errorf("sample proportion must be in (0,1], got %v", proportion)
	}
	return nil
}

// SampleCount returns ceil(proportion*n), and at least one point for a non-empty cloud.
func SampleCount(proportion float64, n int) int {
	if n == 0 {
		return 0
	}
	count := int(math.Ceil(proportion*float64(n) - 1e-9))
	if count < 1 {
		count = 1
	}
	if count > n {
		count = n
	}
	return count
}

func checkNormals(cloud pointcloud.PointCloud) error {
	var missing bool
	cloud.Iterate(0, 0, func(_ int, _ r3.Vector, d pointcloud.Data) bool {
		missing = !d.HasNormal()
		return !missing
	})
	if missing {
		return ErrMissingNormals
	}
	return nil
}

// NormalSpaceSampler buckets points by the direction of their normal and draws from the
// buckets in turn, so rare orientations are kept before the dominant ones.
type NormalSpaceSampler struct {
	Proportion float64
	// Bins is the number of bins along each normal component.
	Bins int
	// Seed drives the shuffle inside each bin.
	Seed int64
}

// Sample implements Sampler.
func (s *NormalSpaceSampler) Sample(cloud pointcloud.PointCloud) (pointcloud.PointCloud, error) {
	if err := ValidateProportion(s.Proportion); err != nil {
		return nil, err
	}
	if s.Bins < 1 {
		return nil, errors.Errorf("normal space sampling needs at least one bin, got %d", s.Bins)
	}
	if err := checkNormals(cloud); err != nil {
		return nil, err
	}
	count := SampleCount(s.Proportion, cloud.Size())

	binOf := func(v float64) int {
		b := int(math.Floor((v + 1) / 2 * float64(s.Bins)))
		if b < 0 {
			return 0
		}
		if b >= s.Bins {
			return s.Bins - 1
		}
		return b
	}
	buckets := make(map[int][]int)
	cloud.Iterate(0, 0, func(i int, _ r3.Vector, d pointcloud.Data) bool {
		n := d.Normal()
		key := (binOf(n.X)*s.Bins+binOf(n.Y))*s.Bins + binOf(n.Z)
		buckets[key] = append(buckets[key], i)
		return true
	})

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	rng := rand.New(rand.NewSource(s.Seed))
	bins := make([][]int, len(keys))
	for i, k := range keys {
		bin := buckets[k]
		rng.Shuffle(len(bin), func(a, b int) { bin[a], bin[b] = bin[b], bin[a] })
		bins[i] = bin
	}

	selected := make([]int, 0, count)
	for len(selected) < count {
		for i := range bins {
			if len(bins[i]) == 0 {
				continue
			}
			selected = append(selected, bins[i][0])
			bins[i] = bins[i][1:]
			if len(selected) == count {
				break
			}
		}
	}
	sort.Ints(selected)
	return pointcloud.Subset(cloud, selected)
}

// CovarianceSampler keeps the points that best constrain all six degrees of freedom of a
// rigid motion. Each point has the constraint vector [p×n, n]; points are chosen greedily
// along the least constrained eigen-direction of the constraint covariance.
type CovarianceSampler struct {
	Proportion float64
}

type projection struct {
	value float64
	index int
}

// Sample implements Sampler.
func (s *CovarianceSampler) Sample(cloud pointcloud.PointCloud) (pointcloud.PointCloud, error) {
	if err := ValidateProportion(s.Proportion); err != nil {
		return nil, err
	}
	if err := checkNormals(cloud); err != nil {
		return nil, err
	}
	n := cloud.Size()
	count := SampleCount(s.Proportion, n)
	if count == n {
		return pointcloud.Copy(cloud), nil
	}

	constraints := ConstraintVectors(cloud)
	cov := constraintCovariance(constraints)
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, errors.New("eigen decomposition of constraint covariance failed")
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// per direction, points ordered by how much they constrain it, strongest last
	lists := make([][]projection, 6)
	axes := make([][]float64, 6)
	for k := 0; k < 6; k++ {
		axes[k] = mat.Col(nil, k, &vectors)
		list := make([]projection, n)
		for i, v := range constraints {
			list[i] = projection{value: math.Abs(floats.Dot(v, axes[k])), index: i}
		}
		sort.SliceStable(list, func(a, b int) bool { return list[a].value < list[b].value })
		lists[k] = list
	}

	taken := make([]bool, n)
	totals := make([]float64, 6)
	selected := make([]int, 0, count)
	for len(selected) < count {
		least := floats.MinIdx(totals)
		list := lists[least]
		for taken[list[len(list)-1].index] {
			list = list[:len(list)-1]
		}
		idx := list[len(list)-1].index
		lists[least] = list[:len(list)-1]

		taken[idx] = true
		selected = append(selected, idx)
		for k := 0; k < 6; k++ {
			d := floats.Dot(constraints[idx], axes[k])
			totals[k] += d * d
		}
	}
	sort.Ints(selected)
	return pointcloud.Subset(cloud, selected)
}

// ConstraintVectors returns [p×n, n] for every point, after moving the cloud to its centroid
// and scaling it to unit mean distance so the rotational and translational parts are
// comparable.
func ConstraintVectors(cloud pointcloud.PointCloud) [][]float64 {
	centroid := pointcloud.CloudCentroid(cloud)
	var meanDist float64
	cloud.Iterate(0, 0, func(_ int, p r3.Vector, _ pointcloud.Data) bool {
		meanDist += p.Sub(centroid).Norm()
		return true
	})
	if cloud.Size() > 0 {
		meanDist /= float64(cloud.Size())
	}
	scale := 1.0
	if meanDist > 0 {
		scale = 1 / meanDist
	}

	out := make([][]float64, 0, cloud.Size())
	cloud.Iterate(0, 0, func(_ int, p r3.Vector, d pointcloud.Data) bool {
		q := p.Sub(centroid).Mul(scale)
		nrm := d.Normal()
		r := q.Cross(nrm)
		out = append(out, []float64{r.X, r.Y, r.Z, nrm.X, nrm.Y, nrm.Z})
		return true
	})
	return out
}

func constraintCovariance(constraints [][]float64) *mat.SymDense {
	cov := mat.NewSymDense(6, nil)
	for _, v := range constraints {
		cov.SymRankOne(cov, 1, mat.NewVecDense(6, v))
	}
	return cov
}

// ConditionNumber returns the ratio of the largest to the smallest eigenvalue of the
// constraint covariance of cloud. Infinite when a direction is unconstrained.
func ConditionNumber(cloud pointcloud.PointCloud) (float64, error) {
	if err := checkNormals(cloud); err != nil {
		return 0, err
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(constraintCovariance(ConstraintVectors(cloud)), false); !ok {
		return 0, errors.New("eigen decomposition of constraint covariance failed")
	}
	values := eig.Values(nil)
	if values[0] <= 0 {
		return math.Inf(1), nil
	}
	return values[5] / values[0], nil
}
