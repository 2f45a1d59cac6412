// Package icp aligns a source point cloud onto a target point cloud with one of three
// iterative closest point variants. Both clouds must carry normals.
package icp

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// Variant selects the objective minimized by an aligner.
type Variant int

// The supported variants.
const (
	PointToPlaneNL Variant = iota
	Generalized
	Symmetric
)

// DefaultVariant is used when no variant, or an unknown one, is configured.
const DefaultVariant = Generalized

var variantNames = map[Variant]string{
	PointToPlaneNL: "non-linear",
	Generalized:    "generalized",
	Symmetric:      "symmetric",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// VariantNames lists the accepted variant names.
func VariantNames() []string {
	return []string{Generalized.String(), PointToPlaneNL.String(), Symmetric.String()}
}

// ParseVariant returns the variant with the given name.
func ParseVariant(name string) (Variant, error) {
	for v, n := range variantNames {
		if n == name {
			return v, nil
		}
	}
	return 0, errors.Errorf("unknown icp variant %q, expected one of %v", name, VariantNames())
}

// VariantOrDefault returns the named variant, or DefaultVariant with a warning when the name
// is unknown. The empty name selects DefaultVariant silently.
func VariantOrDefault(name string, logger logging.Logger) Variant {
	if name == "" {
		return DefaultVariant
	}
	v, err := ParseVariant(name)
	if err != nil {
		logger.Warnw("falling back to default icp variant", "requested", name, "using", DefaultVariant.String())
		return DefaultVariant
	}
	return v
}

// ErrMissingNormals is returned when either cloud has points without normals.
var ErrMissingNormals = errors.New("icp requires normals on both clouds")

// ErrTooFewCorrespondences is returned when fewer points could be matched than a rigid
// motion has degrees of freedom.
var ErrTooFewCorrespondences = errors.New("too few correspondences")

// minCorrespondences is the number of degrees of freedom of a rigid motion.
const minCorrespondences = 6

// Config holds the termination and rejection settings shared by all variants.
type Config struct {
	// TransformationEpsilon stops iterating once |Δt|² + Δθ² of an increment is below it.
	TransformationEpsilon float64 `json:"transformation_epsilon"`
	// EuclideanFitnessEpsilon stops iterating once the mean squared correspondence distance
	// changes by less than it.
	EuclideanFitnessEpsilon float64 `json:"euclidean_fitness_epsilon"`
	// MaximumIterations caps the number of iterations.
	MaximumIterations int `json:"maximum_iterations"`
	// OutlierRejectionThreshold drops pairs whose point-to-plane residual exceeds it.
	OutlierRejectionThreshold float64 `json:"outlier_rejection_threshold"`
	// MaxCorrespondenceDistance drops pairs further apart than it.
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance"`
}

// DefaultConfig returns the settings used for incremental registration.
func DefaultConfig() Config {
	return Config{
		TransformationEpsilon:     1e-8,
		EuclideanFitnessEpsilon:   0.01,
		MaximumIterations:         5,
		OutlierRejectionThreshold: 0.1,
		MaxCorrespondenceDistance: 1,
	}
}

// Validate returns a configuration error naming path when a setting is out of range.
func (cfg Config) Validate(path string) error {
	check := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("%s must be a positive number, got %v", name, v))
		}
		return nil
	}
	if cfg.MaximumIterations < 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("maximum_iterations must be at least 1, got %d", cfg.MaximumIterations))
	}
	if err := check("transformation_epsilon", cfg.TransformationEpsilon); err != nil {
		return err
	}
	if err := check("euclidean_fitness_epsilon", cfg.EuclideanFitnessEpsilon); err != nil {
		return err
	}
	if err := check("outlier_rejection_threshold", cfg.OutlierRejectionThreshold); err != nil {
		return err
	}
	return check("max_correspondence_distance", cfg.MaxCorrespondenceDistance)
}

// Result is the outcome of one alignment.
type Result struct {
	// Transform maps source coordinates into the target frame, initial guess included.
	Transform spatialmath.RigidTransform
	// Iterations is the number of increments computed.
	Iterations int
	// Fitness is the mean squared distance between matched points after alignment.
	Fitness float64
	// Converged is false when the iteration cap was reached first.
	Converged bool
	// Correspondences is the number of matched pairs in the last iteration.
	Correspondences int
}

// An Aligner estimates the rigid transform that moves source onto target, starting from
// initial.
type Aligner interface {
	Align(ctx context.Context, target, source pointcloud.PointCloud, initial spatialmath.RigidTransform) (Result, error)
}

// NewAligner returns an aligner for the variant.
func NewAligner(variant Variant, cfg Config, logger logging.Logger) (Aligner, error) {
	if err := cfg.Validate("icp"); err != nil {
		return nil, err
	}
	var solve solver
	switch variant {
	case PointToPlaneNL:
		solve = solvePointToPlane
	case Generalized:
		solve = solveGeneralized
	case Symmetric:
		solve = solveSymmetric
	default:
		return nil, errors.Errorf("unknown icp variant %v", variant)
	}
	return &aligner{variant: variant, cfg: cfg, solve: solve, logger: logger}, nil
}

// correspondence pairs a source point, moved by the current estimate, with its nearest
// target point.
type correspondence struct {
	source       r3.Vector
	sourceNormal r3.Vector
	target       r3.Vector
	targetNormal r3.Vector
}

// solver computes the increment that, applied after the current estimate, best aligns the
// pairs.
type solver func(pairs []correspondence) (spatialmath.RigidTransform, error)

type aligner struct {
	variant Variant
	cfg     Config
	solve   solver
	logger  logging.Logger
}

func hasNormals(pc pointcloud.PointCloud) bool {
	ok := true
	pc.Iterate(0, 0, func(_ int, _ r3.Vector, d pointcloud.Data) bool {
		ok = d.HasNormal()
		return ok
	})
	return ok
}

// Align implements Aligner.
func (a *aligner) Align(
	ctx context.Context,
	target, source pointcloud.PointCloud,
	initial spatialmath.RigidTransform,
) (Result, error) {
	if !initial.IsFinite() {
		return Result{}, errors.Wrap(spatialmath.ErrNonFiniteTransform, "initial guess")
	}
	if !hasNormals(target) || !hasNormals(source) {
		return Result{}, ErrMissingNormals
	}
	if target.Size() < minCorrespondences || source.Size() < minCorrespondences {
		return Result{}, errors.Wrapf(ErrTooFewCorrespondences,
			"clouds have %d and %d points", target.Size(), source.Size())
	}

	kd := pointcloud.NewKDTree(target)
	current := initial
	prevMSE := math.Inf(1)
	result := Result{}
	for result.Iterations < a.cfg.MaximumIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		pairs, mse := a.match(kd, target, source, current)
		result.Correspondences = len(pairs)
		if len(pairs) < minCorrespondences {
			return Result{}, errors.Wrapf(ErrTooFewCorrespondences,
				"iteration %d matched %d points", result.Iterations, len(pairs))
		}
		if math.Abs(prevMSE-mse) < a.cfg.EuclideanFitnessEpsilon {
			result.Converged = true
			break
		}
		prevMSE = mse

		increment, err := a.solve(pairs)
		if err != nil {
			return Result{}, errors.Wrapf(err, "iteration %d", result.Iterations)
		}
		if !increment.IsFinite() {
			return Result{}, errors.Wrapf(spatialmath.ErrNonFiniteTransform, "iteration %d", result.Iterations)
		}
		current = increment.Compose(current)
		result.Iterations++

		theta := increment.RotationAngle()
		if increment.Translation().Norm2()+theta*theta < a.cfg.TransformationEpsilon {
			result.Converged = true
			break
		}
	}

	if !current.IsFinite() {
		return Result{}, spatialmath.ErrNonFiniteTransform
	}
	pairs, mse := a.match(kd, target, source, current)
	result.Transform = current
	result.Fitness = mse
	result.Correspondences = len(pairs)
	a.logger.Debugw("icp done",
		"variant", a.variant.String(),
		"iterations", result.Iterations,
		"converged", result.Converged,
		"fitness", result.Fitness,
		"correspondences", result.Correspondences)
	return result, nil
}

// match pairs every source point, moved by current, with its nearest target point and
// returns the kept pairs and their mean squared distance.
func (a *aligner) match(
	kd *pointcloud.KDTree,
	target, source pointcloud.PointCloud,
	current spatialmath.RigidTransform,
) ([]correspondence, float64) {
	pairs := make([]correspondence, 0, source.Size())
	var sum float64
	source.Iterate(0, 0, func(_ int, p r3.Vector, d pointcloud.Data) bool {
		moved := current.Apply(p)
		nb, ok := kd.Nearest(moved)
		if !ok || nb.Distance > a.cfg.MaxCorrespondenceDistance {
			return true
		}
		q, qd := target.At(nb.Index)
		if math.Abs(moved.Sub(q).Dot(qd.Normal())) > a.cfg.OutlierRejectionThreshold {
			return true
		}
		pairs = append(pairs, correspondence{
			source:       moved,
			sourceNormal: current.Rotate(d.Normal()),
			target:       q,
			targetNormal: qd.Normal(),
		})
		sum += nb.Distance * nb.Distance
		return true
	})
	if len(pairs) == 0 {
		return pairs, math.Inf(1)
	}
	return pairs, sum / float64(len(pairs))
}
