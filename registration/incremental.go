package registration

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/icp"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/preprocess"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// IncrementalConfig describes one incremental registration run.
type IncrementalConfig struct {
	Fragments []pointcloud.PointCloud
	// Translations[i-1] is the initial guess for aligning the model onto fragment i.
	Translations []r3.Vector
	Aligner      icp.Aligner
	// Sampler overrides the sampler named by Params.
	Sampler preprocess.Sampler
	Params  Params
	// Viewer is optional.
	Viewer Viewer
	Store  Store
	Output string
}

// Incremental grows a model by aligning it onto each fragment in turn and merging the
// fragment into it.
type Incremental struct {
	fragments    []pointcloud.PointCloud
	translations []r3.Vector
	aligner      icp.Aligner
	sampler      preprocess.Sampler
	params       Params
	viewer       Viewer
	store        Store
	output       string
	logger       logging.Logger
}

// NewIncremental checks cfg and returns a run ready to start.
func NewIncremental(cfg IncrementalConfig, logger logging.Logger) (*Incremental, error) {
	if len(cfg.Fragments) == 0 {
		return nil, errors.New("incremental registration needs at least one fragment")
	}
	if len(cfg.Translations) < len(cfg.Fragments)-1 {
		return nil, errors.Errorf("%d fragments need %d translations, got %d",
			len(cfg.Fragments), len(cfg.Fragments)-1, len(cfg.Translations))
	}
	if cfg.Aligner == nil {
		return nil, errors.New("no aligner")
	}
	if cfg.Store == nil {
		return nil, errors.New("no store")
	}
	if cfg.Output == "" {
		return nil, errors.New("no output path")
	}
	if err := cfg.Params.Validate("incremental"); err != nil {
		return nil, err
	}
	sampler := cfg.Sampler
	if sampler == nil {
		var err error
		if sampler, err = preprocess.NewSampler(cfg.Params.Sampler, cfg.Params.SampleProportion); err != nil {
			return nil, err
		}
	}
	return &Incremental{
		fragments:    cfg.Fragments,
		translations: cfg.Translations,
		aligner:      cfg.Aligner,
		sampler:      sampler,
		params:       cfg.Params,
		viewer:       cfg.Viewer,
		store:        cfg.Store,
		output:       cfg.Output,
		logger:       logger,
	}, nil
}

func (inc *Incremental) show(ctx context.Context, title string, clouds ...pointcloud.PointCloud) error {
	if inc.viewer == nil {
		return nil
	}
	return inc.viewer.Show(ctx, title, clouds...)
}

// Run aligns and merges every fragment and writes the model to the output path. Nothing is
// written when a step fails.
func (inc *Incremental) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New().String(), Output: inc.output}
	logger := inc.logger
	logger.Infow("starting incremental registration", "run", report.RunID, "fragments", len(inc.fragments))

	combined := pointcloud.Copy(inc.fragments[0])
	for i := 1; i < len(inc.fragments); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		var step StepReport
		combined, step, err = inc.step(ctx, i, combined)
		if err != nil {
			return nil, &StepError{Step: i, Err: err}
		}
		report.Steps = append(report.Steps, step)
		logger.Infow("alignment completed",
			"step", i,
			"iterations", step.Result.Iterations,
			"converged", step.Result.Converged,
			"fitness", step.Result.Fitness,
			"points", combined.Size())
	}

	if err := inc.store.WriteCloud(inc.output, combined); err != nil {
		return nil, errors.Wrapf(err, "writing combined model to %q", inc.output)
	}
	report.Points = combined.Size()
	logger.Infow("wrote combined model", "run", report.RunID, "path", inc.output, "points", report.Points)
	if err := inc.show(ctx, "combined model", combined); err != nil {
		return nil, err
	}
	return report, nil
}

// step aligns combined onto fragment i and returns the merged model.
func (inc *Incremental) step(
	ctx context.Context,
	i int,
	combined pointcloud.PointCloud,
) (pointcloud.PointCloud, StepReport, error) {
	guess := spatialmath.NewTransformFromTranslation(inc.translations[i-1])
	target := inc.fragments[i]
	title := fmt.Sprintf("fragment %d and %d", i-1, i)
	if err := inc.show(ctx, title+" to be aligned", target, pointcloud.ApplyTransform(combined, guess)); err != nil {
		return nil, StepReport{}, err
	}

	preparedTarget, err := inc.params.prepare(ctx, target, inc.sampler)
	if err != nil {
		return nil, StepReport{}, errors.Wrap(err, "preparing target")
	}
	preparedSource, err := inc.params.prepare(ctx, combined, inc.sampler)
	if err != nil {
		return nil, StepReport{}, errors.Wrap(err, "preparing model")
	}
	res, err := inc.aligner.Align(ctx, preparedTarget, preparedSource, guess)
	if err != nil {
		return nil, StepReport{}, err
	}
	if !res.Transform.IsFinite() {
		return nil, StepReport{}, spatialmath.ErrNonFiniteTransform
	}

	merged := pointcloud.ApplyTransform(combined, res.Transform)
	pointcloud.AppendCloud(merged, target)
	if err := inc.show(ctx, title+" aligned", target, merged); err != nil {
		return nil, StepReport{}, err
	}
	return merged, StepReport{
		Step:         i,
		SourcePoints: preparedSource.Size(),
		TargetPoints: preparedTarget.Size(),
		Result:       res,
	}, nil
}
