// Package registration merges an ordered sequence of overlapping scans into one model. A
// bootstrap pass estimates the translation between consecutive scans, and the incremental
// pass aligns the growing model onto each next fragment and merges it.
package registration

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/icp"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/preprocess"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// Params configures the preprocessing and alignment of one pair of clouds.
type Params struct {
	// Sampler is the preprocess sampler kind.
	Sampler          string  `json:"sampler"`
	SampleProportion float64 `json:"sample_proportion"`
	// NormalsNeighbors is the neighbourhood size for normal estimation.
	NormalsNeighbors int        `json:"normals_nn_search"`
	ICP              icp.Config `json:"icp"`
}

// DefaultBootstrapParams returns the parameters of the translation bootstrap.
func DefaultBootstrapParams() Params {
	cfg := icp.DefaultConfig()
	cfg.MaxCorrespondenceDistance = 0.5
	return Params{
		Sampler:          preprocess.NormalSpaceSampling,
		SampleProportion: preprocess.DefaultSampleProportion,
		NormalsNeighbors: preprocess.DefaultNormalsNeighbors,
		ICP:              cfg,
	}
}

// DefaultIncrementalParams returns the parameters of incremental registration.
func DefaultIncrementalParams() Params {
	return Params{
		Sampler:          preprocess.CovarianceSampling,
		SampleProportion: preprocess.DefaultSampleProportion,
		NormalsNeighbors: preprocess.DefaultNormalsNeighbors,
		ICP:              icp.DefaultConfig(),
	}
}

// Validate checks the parameters, naming path in errors.
func (p Params) Validate(path string) error {
	if _, err := preprocess.NewSampler(p.Sampler, p.SampleProportion); err != nil {
		return errors.Wrap(err, path)
	}
	if p.NormalsNeighbors < 3 {
		return errors.Errorf("%s: normals_nn_search must be at least 3, got %d", path, p.NormalsNeighbors)
	}
	return p.ICP.Validate(path + ".icp")
}

// prepare estimates normals and samples the cloud.
func (p Params) prepare(ctx context.Context, cloud pointcloud.PointCloud, sampler preprocess.Sampler) (pointcloud.PointCloud, error) {
	withNormals, err := preprocess.EstimateNormals(ctx, cloud, p.NormalsNeighbors)
	if err != nil {
		return nil, err
	}
	return sampler.Sample(withNormals)
}

// A Viewer is shown the clouds at each checkpoint and returns once the user is done with
// them.
type Viewer interface {
	Show(ctx context.Context, title string, clouds ...pointcloud.PointCloud) error
}

// A Store persists the combined model.
type Store interface {
	WriteCloud(path string, cloud pointcloud.PointCloud) error
}

// StepError reports the step of incremental registration that failed. Step i aligns the
// model built from fragments 0..i-1 onto fragment i.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("aligning fragment %d onto fragment %d: %v", e.Step-1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepReport describes one alignment step.
type StepReport struct {
	Step         int
	SourcePoints int
	TargetPoints int
	Result       icp.Result
}

// Report describes a completed run.
type Report struct {
	RunID  string
	Steps  []StepReport
	Points int
	Output string
}

// SeedsFromTransforms returns the per-step translations t[i-1]-t[i] between consecutive rig
// transforms, for use as initial guesses.
func SeedsFromTransforms(transforms []spatialmath.RigidTransform) []r3.Vector {
	if len(transforms) < 2 {
		return nil
	}
	seeds := make([]r3.Vector, 0, len(transforms)-1)
	for i := 1; i < len(transforms); i++ {
		seeds = append(seeds, transforms[i-1].Translation().Sub(transforms[i].Translation()))
	}
	return seeds
}

// RepeatSeed returns n copies of seed.
func RepeatSeed(seed r3.Vector, n int) []r3.Vector {
	seeds := make([]r3.Vector, n)
	for i := range seeds {
		seeds[i] = seed
	}
	return seeds
}
