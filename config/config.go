// Package config defines the JSON run configuration of a reconstruction.
package config

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/icp"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/registration"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/rig"
)

// DefaultOutputName is the model file written into the data directory when no output is
// configured.
const DefaultOutputName = "combined.pcd"

// Offset is a displacement in metres.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector returns the offset as a vector.
func (o Offset) Vector() r3.Vector {
	return r3.Vector{X: o.X, Y: o.Y, Z: o.Z}
}

// Config describes one reconstruction run.
type Config struct {
	// ICP names the alignment variant of incremental registration.
	ICP string `json:"icp"`
	// Visualize enables the snapshot viewer.
	Visualize bool `json:"visualize"`
	// SnapshotDir receives the viewer snapshots.
	SnapshotDir string `json:"snapshot_dir"`
	// PivotOffset is the displacement from the rig joint to the sensor.
	PivotOffset Offset              `json:"pivot_offset"`
	Bootstrap   registration.Params `json:"bootstrap"`
	Incremental registration.Params `json:"incremental"`
	// Output is the path of the combined model. Relative to the data directory if not
	// absolute.
	Output string `json:"output"`

	ConfigFilePath string `json:"-"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ICP:         icp.DefaultVariant.String(),
		SnapshotDir: "snapshots",
		PivotOffset: Offset{
			X: rig.DefaultPivotOffset.X,
			Y: rig.DefaultPivotOffset.Y,
			Z: rig.DefaultPivotOffset.Z,
		},
		Bootstrap:   registration.DefaultBootstrapParams(),
		Incremental: registration.DefaultIncrementalParams(),
		Output:      DefaultOutputName,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	for _, v := range []float64{cfg.PivotOffset.X, cfg.PivotOffset.Y, cfg.PivotOffset.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return utils.NewConfigValidationError(path, errors.Errorf("pivot_offset must be finite, got %v", cfg.PivotOffset))
		}
	}
	if cfg.Output == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "output")
	}
	if cfg.Visualize && cfg.SnapshotDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "snapshot_dir")
	}
	if err := cfg.Bootstrap.Validate(path + ".bootstrap"); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if err := cfg.Incremental.Validate(path + ".incremental"); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Variant returns the configured alignment variant, falling back to the default with a
// warning.
func (cfg *Config) Variant(logger logging.Logger) icp.Variant {
	return icp.VariantOrDefault(cfg.ICP, logger)
}
