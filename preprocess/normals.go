// Package preprocess prepares point clouds for alignment: it estimates surface normals and
// reduces clouds with sampling policies that keep the points alignment depends on.
package preprocess

import (
	"context"
	"math"
	"runtime"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
)

// DefaultNormalsNeighbors is the neighbourhood size used for normal estimation.
const DefaultNormalsNeighbors = 10

// minNeighbors is the smallest neighbourhood that defines a plane.
const minNeighbors = 3

// viewpoint is the sensor position normals are oriented toward.
var viewpoint = r3.Vector{}

// EstimateNormals returns a copy of cloud in which every point carries the normal of the
// plane fitted to its k nearest neighbours, together with the surface variation
// λ0/(λ0+λ1+λ2). Normals point toward the sensor at the origin. The work is split over the
// available CPUs and the result does not depend on the split.
func EstimateNormals(ctx context.Context, cloud pointcloud.PointCloud, k int) (pointcloud.PointCloud, error) {
	if k < minNeighbors {
		return nil, errors.Errorf("normal estimation needs at least %d neighbours, got %d", minNeighbors, k)
	}
	if cloud.Size() < minNeighbors {
		return nil, errors.Errorf("normal estimation needs at least %d points, got %d", minNeighbors, cloud.Size())
	}
	if k > cloud.Size() {
		k = cloud.Size()
	}

	kd := pointcloud.NewKDTree(cloud)
	normals := make([]r3.Vector, cloud.Size())
	curvatures := make([]float64, cloud.Size())

	numBatches := runtime.NumCPU()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numBatches)
	for batch := 0; batch < numBatches; batch++ {
		batch := batch
		g.Go(func() error {
			var iterErr error
			neighborhood := mat.NewDense(k, 3, nil)
			cloud.Iterate(numBatches, batch, func(i int, p r3.Vector, _ pointcloud.Data) bool {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						iterErr = err
						return false
					}
				}
				n, curvature, err := fitNormal(cloud, kd, p, k, neighborhood)
				if err != nil {
					iterErr = errors.Wrapf(err, "point %d", i)
					return false
				}
				normals[i] = n
				curvatures[i] = curvature
				return true
			})
			return iterErr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := pointcloud.NewWithPrealloc(cloud.Size())
	cloud.Iterate(0, 0, func(i int, p r3.Vector, d pointcloud.Data) bool {
		out.Append(p, d.SetNormal(normals[i], curvatures[i]))
		return true
	})
	return out, nil
}

// fitNormal returns the smallest eigenvector of the covariance of the k neighbours of p.
func fitNormal(
	cloud pointcloud.PointCloud,
	kd *pointcloud.KDTree,
	p r3.Vector,
	k int,
	neighborhood *mat.Dense,
) (r3.Vector, float64, error) {
	neighbors := kd.KNearest(p, k)
	if len(neighbors) < minNeighbors {
		return r3.Vector{}, 0, errors.Errorf("found %d neighbours", len(neighbors))
	}
	rows := neighborhood
	if len(neighbors) != k {
		rows = mat.NewDense(len(neighbors), 3, nil)
	}
	for row, nb := range neighbors {
		q, _ := cloud.At(nb.Index)
		rows.Set(row, 0, q.X)
		rows.Set(row, 1, q.Y)
		rows.Set(row, 2, q.Z)
	}

	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, rows, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return r3.Vector{}, 0, errors.New("eigen decomposition of neighbourhood covariance failed")
	}
	// eigenvalues are in ascending order
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	n := r3.Vector{X: vectors.At(0, 0), Y: vectors.At(1, 0), Z: vectors.At(2, 0)}
	if norm := n.Norm(); norm > 0 {
		n = n.Mul(1 / norm)
	} else {
		n = r3.Vector{Z: 1}
	}
	if n.Dot(viewpoint.Sub(p)) < 0 {
		n = n.Mul(-1)
	}

	var curvature float64
	sum := math.Abs(values[0]) + math.Abs(values[1]) + math.Abs(values[2])
	if sum > 0 {
		curvature = math.Abs(values[0]) / sum
	}
	return n, curvature, nil
}
