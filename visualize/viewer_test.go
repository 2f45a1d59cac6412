package visualize

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.viam.com/test"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
)

func TestRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corner.png")
	corner := pointcloud.MakeTestCorner(0.1, 1, false)
	test.That(t, Render(path, "corner", corner, pointcloud.New(), nil), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	test.That(t, Render(filepath.Join(t.TempDir(), "missing", "x.png"), "corner", corner), test.ShouldNotBeNil)
}

func TestSnapshotViewerWaitsForInput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	var out bytes.Buffer
	v, err := NewSnapshotViewer(dir, strings.NewReader("\n"), &out, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	cloud := pointcloud.MakeTestPlane(0, 1, 0, 1, 0, 0.25)
	test.That(t, v.Show(context.Background(), "fragment 0 and 1", cloud, cloud), test.ShouldBeNil)
	// end of input releases every later checkpoint
	test.That(t, v.Show(context.Background(), "combined model", cloud), test.ShouldBeNil)
	test.That(t, v.Snapshots(), test.ShouldEqual, 2)

	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 2)
	test.That(t, entries[0].Name(), test.ShouldEqual, "000_fragment_0_and_1.png")
	test.That(t, out.String(), test.ShouldContainSubstring, "press enter to continue")
}

func TestSnapshotViewerCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	v, err := NewSnapshotViewer(t.TempDir(), r, io.Discard, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = v.Show(ctx, "blocked", pointcloud.MakeTestPlane(0, 1, 0, 1, 0, 0.5))
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
}

func TestSnapshotViewerClose(t *testing.T) {
	running := goleak.IgnoreCurrent()
	r, w := io.Pipe()
	defer w.Close()
	v, err := NewSnapshotViewer(t.TempDir(), r, io.Discard, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, v.Close(), test.ShouldBeNil)
	test.That(t, v.Close(), test.ShouldBeNil)
	// a closed viewer no longer waits at checkpoints
	test.That(t, v.Show(context.Background(), "after close", pointcloud.MakeTestPlane(0, 1, 0, 1, 0, 0.5)), test.ShouldBeNil)

	// the reader stops at the next line instead of waiting for a checkpoint to take it
	_, err = w.Write([]byte("\n"))
	test.That(t, err, test.ShouldBeNil)
	goleak.VerifyNone(t, running)
}
