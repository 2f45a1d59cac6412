package cli

import (
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	"go.viam.com/utils"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/config"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/dataset"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/icp"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/orientation"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/registration"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/rig"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/visualize"
)

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewBlankLogger("reconstruct")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if !c.Bool(flagDebug) {
		logger.SetLevel(zapcore.InfoLevel)
	}
	return logger
}

// loadConfig reads --config, or the defaults, and applies the flags on top.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path, logger); err != nil {
			return nil, err
		}
	}
	if c.IsSet(flagICP) {
		cfg.ICP = c.String(flagICP)
	}
	if c.IsSet(flagVisualize) {
		cfg.Visualize = c.Bool(flagVisualize)
	}
	if c.IsSet(flagOutput) {
		cfg.Output = c.String(flagOutput)
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// seeds returns the initial guess of each step: from the orientation log when given, else
// the bootstrap estimate from the scans when given, else zero.
func seeds(c *cli.Context, cfg *config.Config, steps int, logger logging.Logger) ([]r3.Vector, error) {
	if path := c.String(flagOrientation); path != "" {
		readings, err := orientation.ReadFile(path, logger)
		if err != nil {
			return nil, err
		}
		if len(readings) < steps+1 {
			return nil, errors.Errorf("%d fragments but only %d orientation readings in %q", steps+1, len(readings), path)
		}
		transforms, err := rig.NewBuilder(cfg.PivotOffset.Vector()).Build(readings.Quaternions()[:steps+1])
		if err != nil {
			return nil, err
		}
		return registration.SeedsFromTransforms(transforms), nil
	}
	if dir := c.String(flagScans); dir != "" {
		translation, err := registration.EstimateTranslationFromDir(c.Context, dir, cfg.Bootstrap, nil, logger)
		if err != nil {
			return nil, errors.Wrap(err, "estimating initial translation")
		}
		logger.Warnw("every step is seeded with the summed bootstrap translation", "translation", translation)
		return registration.RepeatSeed(translation, steps), nil
	}
	return registration.RepeatSeed(r3.Vector{}, steps), nil
}

// ReconstructAction aligns and merges the fragments of a data directory.
func ReconstructAction(c *cli.Context) error {
	dataDir := c.Args().First()
	if dataDir == "" {
		if err := cli.ShowAppHelp(c); err != nil {
			return err
		}
		return cli.Exit("missing data directory", exitUsage)
	}
	logger := newLogger(c)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}

	n, err := dataset.NumberOfDirectories(dataDir)
	if err != nil {
		return err
	}
	fragments, err := dataset.LoadFragments(dataDir, n, logger)
	if err != nil {
		return err
	}
	translations, err := seeds(c, cfg, len(fragments)-1, logger)
	if err != nil {
		return err
	}

	variant := cfg.Variant(logger)
	aligner, err := icp.NewAligner(variant, cfg.Incremental.ICP, logger)
	if err != nil {
		return err
	}
	incCfg := registration.IncrementalConfig{
		Fragments:    fragments,
		Translations: translations,
		Aligner:      aligner,
		Params:       cfg.Incremental,
		Store:        dataset.FileStore{},
		Output:       resolve(dataDir, cfg.Output),
	}
	if cfg.Visualize {
		viewer, err := visualize.NewSnapshotViewer(resolve(dataDir, cfg.SnapshotDir), c.App.Reader, c.App.Writer, logger)
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(viewer.Close)
		incCfg.Viewer = viewer
	}
	inc, err := registration.NewIncremental(incCfg, logger)
	if err != nil {
		return err
	}
	report, err := inc.Run(c.Context)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", report)
	printf(c.App.Writer, "wrote %d points to %s using %s icp", report.Points, report.Output, variant)
	return nil
}

// CombineAction turns the data packets of a directory into fragments or scans using the
// orientation log.
func CombineAction(c *cli.Context) error {
	if c.NArg() != 2 {
		if err := cli.ShowSubcommandHelp(c); err != nil {
			return err
		}
		return cli.Exit("combine needs a packets directory and an output directory", exitUsage)
	}
	packetsDir, outDir := c.Args().Get(0), c.Args().Get(1)
	logger := newLogger(c)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}

	packets, err := dataset.LoadPackets(packetsDir, logger)
	if err != nil {
		return err
	}
	logPath := c.String(flagOrientation)
	if logPath == "" {
		logPath = filepath.Join(packetsDir, orientation.DefaultLogName)
	}
	readings, err := orientation.ReadFile(logPath, logger)
	if err != nil {
		return err
	}
	transforms, err := rig.NewBuilder(cfg.PivotOffset.Vector()).Build(readings.Quaternions())
	if err != nil {
		return err
	}

	combine := dataset.CombinePacketsToFragments
	if c.Bool(flagAsScans) {
		combine = dataset.CombinePacketsToScans
	}
	clouds, err := combine(outDir, packets, transforms, logger)
	if err != nil {
		return err
	}
	for i, cloud := range clouds {
		printf(c.App.Writer, "combined %d: %s", i, pointcloud.String(cloud))
	}
	return nil
}
