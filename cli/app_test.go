package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/test"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/config"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/dataset"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/orientation"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

type testApp struct {
	app      *cli.App
	out, err *bytes.Buffer
}

func newTestApp() testApp {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return testApp{app: NewApp(strings.NewReader(""), out, errOut), out: out, err: errOut}
}

func (ta testApp) run(args ...string) error {
	return ta.app.Run(append([]string{"reconstruct"}, args...))
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr cli.ExitCoder
	test.That(t, errors.As(err, &exitErr), test.ShouldBeTrue)
	return exitErr.ExitCode()
}

func testScene() pointcloud.PointCloud {
	corner := pointcloud.MakeTestCorner(0.1, 1.5, false)
	return pointcloud.ApplyTransform(corner, spatialmath.NewTransformFromTranslation(r3.Vector{X: -0.5, Y: -0.4, Z: -0.3}))
}

func TestHelp(t *testing.T) {
	ta := newTestApp()
	test.That(t, ta.run("--help"), test.ShouldBeNil)
	test.That(t, ta.out.String(), test.ShouldContainSubstring, "reconstruct [options] <data-dir>")
	test.That(t, ta.out.String(), test.ShouldContainSubstring, "combine")
}

func TestBadVariant(t *testing.T) {
	ta := newTestApp()
	err := ta.run("--icp", "point-to-point", t.TempDir())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, exitCode(t, err), test.ShouldEqual, exitUsage)
	test.That(t, ta.err.String(), test.ShouldContainSubstring, "Incorrect parameter for ICP option.")
	test.That(t, ta.out.String(), test.ShouldContainSubstring, "USAGE")
}

func TestMissingDataDir(t *testing.T) {
	ta := newTestApp()
	err := ta.run()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, exitCode(t, err), test.ShouldEqual, exitUsage)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing data directory")
}

func TestReconstruct(t *testing.T) {
	dataDir := t.TempDir()
	scene := testScene()
	for i := 0; i < 2; i++ {
		test.That(t, dataset.WriteCloud(dataset.FragmentPath(dataDir, i), scene), test.ShouldBeNil)
	}
	output := filepath.Join(t.TempDir(), "model.pcd")

	ta := newTestApp()
	test.That(t, ta.run("--icp", "non-linear", "--output", output, dataDir), test.ShouldBeNil)
	test.That(t, ta.out.String(), test.ShouldContainSubstring, "0-1")
	test.That(t, ta.out.String(), test.ShouldContainSubstring, output)

	model, err := dataset.ReadCloud(output, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Size(), test.ShouldEqual, 2*scene.Size())
}

func TestReconstructBadDataDir(t *testing.T) {
	dataDir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dataDir, "notes.txt"), nil, 0o600), test.ShouldBeNil)

	err := newTestApp().run(dataDir)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fragment 0")
}

func TestReconstructRerun(t *testing.T) {
	dataDir := t.TempDir()
	scene := testScene()
	for i := 0; i < 2; i++ {
		test.That(t, dataset.WriteCloud(dataset.FragmentPath(dataDir, i), scene), test.ShouldBeNil)
	}

	// the default output and the snapshots land in the data directory and must not be
	// mistaken for fragments by later runs
	for _, args := range [][]string{
		{"--icp", "non-linear", dataDir},
		{"--icp", "non-linear", "-v", dataDir},
		{"--icp", "non-linear", dataDir},
	} {
		test.That(t, newTestApp().run(args...), test.ShouldBeNil)
		model, err := dataset.ReadCloud(filepath.Join(dataDir, config.DefaultOutputName), logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, model.Size(), test.ShouldEqual, 2*scene.Size())
	}
	snapshots, err := os.ReadDir(filepath.Join(dataDir, config.Default().SnapshotDir))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(snapshots), test.ShouldEqual, 3)
}

func TestCombine(t *testing.T) {
	packetsDir := t.TempDir()
	packet := pointcloud.NewFromPoints([]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}})
	for _, name := range []string{"scan_0_0.pcd", "scan_0_1.pcd", "scan_1_0.pcd"} {
		test.That(t, dataset.WriteCloud(filepath.Join(packetsDir, name), packet), test.ShouldBeNil)
	}
	var log strings.Builder
	log.WriteString("rot_w,rot_x,rot_y,rot_z,grav_x,grav_y,grav_z,grav_rot_w,grav_rot_x,grav_rot_y,grav_rot_z,timestamp,counter\n")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&log, "1, 0, 0, 0, 0, 0, -9.81, 1, 0, 0, 0, %d, %d\n", 1000+10*i, i)
	}
	logPath := filepath.Join(packetsDir, orientation.DefaultLogName)
	test.That(t, os.WriteFile(logPath, []byte(log.String()), 0o600), test.ShouldBeNil)

	t.Run("fragments", func(t *testing.T) {
		outDir := t.TempDir()
		ta := newTestApp()
		test.That(t, ta.run("combine", packetsDir, outDir), test.ShouldBeNil)
		test.That(t, ta.out.String(), test.ShouldContainSubstring, "combined 0: 6 points")
		test.That(t, ta.out.String(), test.ShouldContainSubstring, "combined 1: 3 points")

		n, err := dataset.NumberOfDirectories(outDir)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 2)
	})

	t.Run("scans", func(t *testing.T) {
		outDir := t.TempDir()
		test.That(t, newTestApp().run("combine", "--as-scans", "--orientation", logPath, packetsDir, outDir), test.ShouldBeNil)
		for i := 0; i < 2; i++ {
			_, err := os.Stat(filepath.Join(outDir, dataset.ScanFileName(i)))
			test.That(t, err, test.ShouldBeNil)
		}
	})

	t.Run("arguments", func(t *testing.T) {
		err := newTestApp().run("combine", packetsDir)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, exitCode(t, err), test.ShouldEqual, exitUsage)
	})
}
