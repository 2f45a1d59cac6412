package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

func touch(t *testing.T, path string) {
	t.Helper()
	test.That(t, os.MkdirAll(filepath.Dir(path), 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, nil, 0o600), test.ShouldBeNil)
}

func writePacket(t *testing.T, dir, name string, points ...r3.Vector) {
	t.Helper()
	test.That(t, WriteCloud(filepath.Join(dir, name), pointcloud.NewFromPoints(points)), test.ShouldBeNil)
}

func TestNumberOfScans(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"scan_0_0.pcd", "scan_0_1.pcd", "scan_4_0.pcd", "scan_12.pcd", ".DS_Store", "notes.txt"} {
		touch(t, filepath.Join(dir, name))
	}
	n, err := NumberOfScans(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 13)

	empty := t.TempDir()
	touch(t, filepath.Join(empty, ".DS_Store"))
	n, err = NumberOfScans(empty)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)

	touch(t, filepath.Join(dir, "scan_x.pcd"))
	_, err = NumberOfScans(dir)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NumberOfScans(filepath.Join(dir, "missing"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing")
}

func TestNumberOfDirectories(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"fragment_0", "fragment_2", "fragment_10"} {
		test.That(t, os.Mkdir(filepath.Join(dir, name), 0o750), test.ShouldBeNil)
	}
	touch(t, filepath.Join(dir, ".DS_Store"))
	n, err := NumberOfDirectories(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 11)

	// entries written by an earlier run, or anything else, are not fragments
	for _, name := range []string{"other", "snapshots", "fragment_x", "fragment_99.bak"} {
		test.That(t, os.Mkdir(filepath.Join(dir, name), 0o750), test.ShouldBeNil)
	}
	touch(t, filepath.Join(dir, "combined.pcd"))
	touch(t, filepath.Join(dir, "fragment_20"))
	n, err = NumberOfDirectories(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 11)

	n, err = NumberOfDirectories(t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)

	_, err = NumberOfDirectories(filepath.Join(dir, "missing"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadFragments(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)
	for i := 0; i < 3; i++ {
		cloud := pointcloud.NewFromPoints([]r3.Vector{{X: float64(i)}, {Y: float64(i)}})
		test.That(t, WriteCloud(FragmentPath(dir, i), cloud), test.ShouldBeNil)
	}
	n, err := NumberOfDirectories(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)

	fragments, err := LoadFragments(dir, n, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(fragments), test.ShouldEqual, 3)
	p, _ := fragments[2].At(0)
	test.That(t, p, test.ShouldResemble, r3.Vector{X: 2})

	_, err = LoadFragments(dir, 4, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fragment 3")
}

func TestLoadPackets(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)
	writePacket(t, dir, "scan_0_10.pcd", r3.Vector{X: 10})
	writePacket(t, dir, "scan_0_2.pcd", r3.Vector{X: 2})
	writePacket(t, dir, "scan_1_0.pcd", r3.Vector{Y: 1})
	touch(t, filepath.Join(dir, ".DS_Store"))
	touch(t, filepath.Join(dir, "quaternions_datapacket.csv"))

	inScan, err := LoadPacketsInScan(dir, 0, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(inScan), test.ShouldEqual, 2)
	first, _ := inScan[0].At(0)
	test.That(t, first, test.ShouldResemble, r3.Vector{X: 2})

	all, err := LoadPackets(dir, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(all), test.ShouldEqual, 2)
	test.That(t, len(all[0]), test.ShouldEqual, 2)
	test.That(t, len(all[1]), test.ShouldEqual, 1)

	_, err = LoadPackets(t.TempDir(), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCombinePackets(t *testing.T) {
	packets := [][]pointcloud.PointCloud{
		{pointcloud.NewFromPoints([]r3.Vector{{X: 1}}), pointcloud.NewFromPoints([]r3.Vector{{X: 2}})},
		{pointcloud.NewFromPoints([]r3.Vector{{X: 3}, {X: 4}})},
	}
	transforms := []spatialmath.RigidTransform{
		spatialmath.NewTransformFromTranslation(r3.Vector{Z: 1}),
		spatialmath.NewTransformFromTranslation(r3.Vector{Z: 2}),
		spatialmath.NewTransformFromTranslation(r3.Vector{Z: 3}),
	}
	scans, err := CombinePackets(packets, transforms)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(scans), test.ShouldEqual, 2)

	want := []r3.Vector{{X: 1, Z: 1}, {X: 2, Z: 2}}
	if diff := cmp.Diff(want, pointcloud.Positions(scans[0])); diff != "" {
		t.Errorf("scan 0 positions (-want +got):\n%s", diff)
	}
	want = []r3.Vector{{X: 3, Z: 3}, {X: 4, Z: 3}}
	if diff := cmp.Diff(want, pointcloud.Positions(scans[1])); diff != "" {
		t.Errorf("scan 1 positions (-want +got):\n%s", diff)
	}
	_, d := scans[0].At(1)
	test.That(t, d.Label(), test.ShouldEqual, 1)
	_, d = scans[1].At(1)
	test.That(t, d.Label(), test.ShouldEqual, 2)

	_, err = CombinePackets(packets, transforms[:2])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCombinePacketsToDisk(t *testing.T) {
	logger := logging.NewTestLogger(t)
	packets := [][]pointcloud.PointCloud{
		{pointcloud.NewFromPoints([]r3.Vector{{X: 1}})},
		{pointcloud.NewFromPoints([]r3.Vector{{Y: 1}})},
	}
	transforms := []spatialmath.RigidTransform{spatialmath.NewIdentityTransform(), spatialmath.NewIdentityTransform()}

	scanDir := t.TempDir()
	_, err := CombinePacketsToScans(scanDir, packets, transforms, logger)
	test.That(t, err, test.ShouldBeNil)
	scans, err := LoadScans(scanDir, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(scans), test.ShouldEqual, 2)
	_, d := scans[1].At(0)
	test.That(t, d.HasLabel(), test.ShouldBeTrue)
	test.That(t, d.Label(), test.ShouldEqual, 1)

	fragmentDir := t.TempDir()
	_, err = CombinePacketsToFragments(fragmentDir, packets, transforms, logger)
	test.That(t, err, test.ShouldBeNil)
	n, err := NumberOfDirectories(fragmentDir)
	test.That(t, err, test.ShouldBeNil)
	fragments, err := LoadFragments(fragmentDir, n, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(fragments), test.ShouldEqual, 2)
}

func TestWriteCloudLAS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "model.las")
	cloud := pointcloud.NewFromPoints([]r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -1}})
	test.That(t, FileStore{}.WriteCloud(path, cloud), test.ShouldBeNil)
	back, err := ReadCloud(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Size(), test.ShouldEqual, 2)
	p, _ := back.At(0)
	test.That(t, p.Sub(r3.Vector{X: 1, Y: 2, Z: 3}).Norm(), test.ShouldBeLessThan, 1e-3)
}
