// Package cli contains the reconstruct command line application.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/icp"
)

// Flags.
const (
	flagICP         = "icp"
	flagVisualize   = "visualize"
	flagScans       = "scans"
	flagOrientation = "orientation"
	flagOutput      = "output"
	flagConfig      = "config"
	flagDebug       = "debug"
	flagAsScans     = "as-scans"
)

// exitUsage is the status of a run with invalid arguments.
const exitUsage = 2

// NewApp returns the reconstruct application. Checkpoints of the viewer read from in;
// failures are returned from Run and never exit the process.
func NewApp(in io.Reader, out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "reconstruct",
		Usage:           "merge overlapping LiDAR fragments into one model",
		UsageText:       "reconstruct [options] <data-dir>",
		ArgsUsage:       "<data-dir>",
		HideHelpCommand: true,
		Reader:          in,
		Writer:          out,
		ErrWriter:       errOut,
		ExitErrHandler:  func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagICP,
				Usage: fmt.Sprintf("alignment variant, one of %v", icp.VariantNames()),
			},
			&cli.BoolFlag{
				Name:    flagVisualize,
				Aliases: []string{"v"},
				Usage:   "write a snapshot at every checkpoint and wait for enter",
			},
			&cli.StringFlag{
				Name:  flagScans,
				Usage: "estimate the initial translation from the scan_<i>.pcd files in `DIR`",
			},
			&cli.StringFlag{
				Name:  flagOrientation,
				Usage: "seed every step from the orientation log `FILE`, one reading per fragment",
			},
			&cli.StringFlag{
				Name:  flagOutput,
				Usage: "write the combined model to `FILE` (.pcd or .las)",
			},
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: checkVariant,
		Action: ReconstructAction,
		Commands: []*cli.Command{
			{
				Name:      "combine",
				Usage:     "combine data packets into fragments using the orientation log",
				UsageText: "reconstruct combine [options] <packets-dir> <out-dir>",
				ArgsUsage: "<packets-dir> <out-dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagOrientation,
						Usage: "read orientations from `FILE` instead of the log inside the packets directory",
					},
					&cli.BoolFlag{
						Name:  flagAsScans,
						Usage: "write scan_<i>.pcd files instead of fragment directories",
					},
				},
				Action: CombineAction,
			},
		},
	}
}

// checkVariant rejects an unknown --icp before anything runs.
func checkVariant(c *cli.Context) error {
	if !c.IsSet(flagICP) {
		return nil
	}
	if _, err := icp.ParseVariant(c.String(flagICP)); err != nil {
		printf(c.App.ErrWriter, "Incorrect parameter for ICP option.")
		if helpErr := cli.ShowAppHelp(c); helpErr != nil {
			return helpErr
		}
		return cli.Exit(err.Error(), exitUsage)
	}
	return nil
}

// printf prints a message with a newline to the given writer.
func printf(w io.Writer, format string, a ...interface{}) {
	// no need to check errors
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
