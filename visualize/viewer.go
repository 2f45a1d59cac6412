// Package visualize renders point clouds to PNG snapshots for inspecting a registration run.
package visualize

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/pointcloud"
)

// maxPlotPoints bounds the points drawn per cloud; larger clouds are strided.
const maxPlotPoints = 20000

const snapshotSize = 8 * vg.Inch

// Render writes a top-down scatter plot of the clouds to path, one colour per cloud.
func Render(path, title string, clouds ...pointcloud.PointCloud) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Legend.Top = true

	for i, cloud := range clouds {
		if cloud == nil || cloud.Size() == 0 {
			continue
		}
		stride := (cloud.Size() + maxPlotPoints - 1) / maxPlotPoints
		pts := make(plotter.XYs, 0, cloud.Size()/stride+1)
		cloud.Iterate(0, 0, func(idx int, pos r3.Vector, _ pointcloud.Data) bool {
			if idx%stride == 0 {
				pts = append(pts, plotter.XY{X: pos.X, Y: pos.Y})
			}
			return true
		})
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return errors.Wrapf(err, "plotting cloud %d", i)
		}
		scatter.GlyphStyle.Color = plotutil.Color(i)
		scatter.GlyphStyle.Radius = vg.Points(1)
		p.Add(scatter)
		p.Legend.Add(fmt.Sprintf("cloud %d (%d points)", i, cloud.Size()), scatter)
	}
	p.Add(plotter.NewGrid())

	if err := p.Save(snapshotSize, snapshotSize, path); err != nil {
		return errors.Wrapf(err, "saving snapshot %q", path)
	}
	return nil
}

// SnapshotViewer writes a snapshot per checkpoint and waits for a line on its input before
// the run continues. End of input, or Close, lets every later checkpoint pass without
// waiting.
type SnapshotViewer struct {
	dir    string
	out    io.Writer
	logger logging.Logger

	mu    sync.Mutex
	lines chan struct{}
	count int

	done      chan struct{}
	closeOnce sync.Once
}

// NewSnapshotViewer returns a viewer writing to dir, which is created if needed. Prompts go
// to out and in is read for acknowledgements.
func NewSnapshotViewer(dir string, in io.Reader, out io.Writer, logger logging.Logger) (*SnapshotViewer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating snapshot directory %q", dir)
	}
	v := &SnapshotViewer{dir: dir, out: out, logger: logger, lines: make(chan struct{}), done: make(chan struct{})}
	go v.readLines(bufio.NewReader(in))
	return v, nil
}

func (v *SnapshotViewer) readLines(in *bufio.Reader) {
	for {
		if _, err := in.ReadString('\n'); err != nil {
			close(v.lines)
			return
		}
		select {
		case v.lines <- struct{}{}:
		case <-v.done:
			return
		}
	}
}

// Close releases the input reader. A read already in progress ends with the next line or
// the end of input.
func (v *SnapshotViewer) Close() error {
	v.closeOnce.Do(func() { close(v.done) })
	return nil
}

func slug(title string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, title)
}

// Show renders the clouds and blocks until a line is read or ctx is done.
func (v *SnapshotViewer) Show(ctx context.Context, title string, clouds ...pointcloud.PointCloud) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	path := filepath.Join(v.dir, fmt.Sprintf("%03d_%s.png", v.count, slug(title)))
	v.count++
	if err := Render(path, title, clouds...); err != nil {
		return err
	}
	v.logger.Debugw("wrote snapshot", "path", path, "clouds", len(clouds))
	if _, err := fmt.Fprintf(v.out, "%s: see %s, press enter to continue\n", title, path); err != nil {
		return errors.Wrap(err, "writing prompt")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-v.lines:
		return nil
	case <-v.done:
		return nil
	}
}

// Snapshots returns the number of snapshots written so far.
func (v *SnapshotViewer) Snapshots() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count
}
