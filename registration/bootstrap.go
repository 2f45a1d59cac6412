package registration

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/dataset"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/icp"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/preprocess"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// EstimateTranslation aligns each scan onto the next one, starting from the identity, and
// returns the sum of the translation columns of the pairwise transforms. A nil aligner is
// replaced by a point-to-plane aligner built from params.
func EstimateTranslation(
	ctx context.Context,
	scans []pointcloud.PointCloud,
	params Params,
	aligner icp.Aligner,
	logger logging.Logger,
) (r3.Vector, error) {
	if err := params.Validate("bootstrap"); err != nil {
		return r3.Vector{}, err
	}
	if len(scans) < 2 {
		return r3.Vector{}, errors.Errorf("translation estimation needs at least two scans, got %d", len(scans))
	}
	sampler, err := preprocess.NewSampler(params.Sampler, params.SampleProportion)
	if err != nil {
		return r3.Vector{}, err
	}
	if aligner == nil {
		if aligner, err = icp.NewAligner(icp.PointToPlaneNL, params.ICP, logger); err != nil {
			return r3.Vector{}, err
		}
	}

	var sum r3.Vector
	source, err := params.prepare(ctx, scans[0], sampler)
	if err != nil {
		return r3.Vector{}, errors.Wrap(err, "preparing scan 0")
	}
	for i := 1; i < len(scans); i++ {
		if err := ctx.Err(); err != nil {
			return r3.Vector{}, err
		}
		target, err := params.prepare(ctx, scans[i], sampler)
		if err != nil {
			return r3.Vector{}, errors.Wrapf(err, "preparing scan %d", i)
		}
		res, err := aligner.Align(ctx, target, source, spatialmath.NewIdentityTransform())
		if err != nil {
			return r3.Vector{}, errors.Wrapf(err, "aligning scan %d onto scan %d", i-1, i)
		}
		if !res.Transform.IsFinite() {
			return r3.Vector{}, errors.Wrapf(spatialmath.ErrNonFiniteTransform, "aligning scan %d onto scan %d", i-1, i)
		}
		step := res.Transform.Translation()
		sum = sum.Add(step)
		logger.Debugw("bootstrap step", "source", i-1, "target", i, "translation", step, "fitness", res.Fitness)
		source = target
	}
	logger.Infow("estimated translation as the sum of pairwise translations", "scans", len(scans), "translation", sum)
	return sum, nil
}

// EstimateTranslationFromDir loads scan_<i>.pcd from dir and runs EstimateTranslation.
func EstimateTranslationFromDir(
	ctx context.Context,
	dir string,
	params Params,
	aligner icp.Aligner,
	logger logging.Logger,
) (r3.Vector, error) {
	scans, err := dataset.LoadScans(dir, logger)
	if err != nil {
		return r3.Vector{}, err
	}
	return EstimateTranslation(ctx, scans, params, aligner, logger)
}
