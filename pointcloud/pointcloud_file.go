package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
)

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	switch filepath.Ext(fn) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		return NewFromPCDFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud to fn, as LAS when the extension is .las and as binary PCD
// otherwise.
func WriteToFile(cloud PointCloud, fn string) error {
	if filepath.Ext(fn) == ".las" {
		return WriteToLASFile(cloud, fn)
	}
	return WriteToPCDFile(cloud, fn, PCDBinary)
}

// NewFromPCDFile reads a PCD file.
func NewFromPCDFile(fn string) (PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening point cloud %q", fn)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	pc, err := ReadPCD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading point cloud %q", fn)
	}
	return pc, nil
}

// WriteToPCDFile writes the cloud to fn in the given encoding.
func WriteToPCDFile(cloud PointCloud, fn string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return errors.Wrapf(err, "creating point cloud %q", fn)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if err = ToPCD(cloud, w, outputType); err != nil {
		return errors.Wrapf(err, "writing point cloud %q", fn)
	}
	return w.Flush()
}

// pointLabelDataTag encodes if the point has label data.
const pointLabelDataTag = "rc|pl"

// lasScale is the coordinate resolution of written LAS files, in metres.
const lasScale = 1e-4

// lasMaxCoordinate is the largest magnitude representable with lasScale in a LAS int32.
const lasMaxCoordinate = float64(1<<31-1) * lasScale

// NewFromLASFile returns a point cloud from reading a LAS file. If any
// lossiness of points could occur from reading it in, it's reported but is not
// an error.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, errors.Wrapf(err, "opening point cloud %q", fn)
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	var hasLabel bool
	var labelData []byte
	for _, d := range lf.VlrData {
		if d.Description == pointLabelDataTag {
			hasLabel = true
			labelData = d.BinaryData
			break
		}
	}
	if hasLabel && len(labelData) < 8*lf.Header.NumberPoints {
		logger.Warnw("ignoring truncated LAS label record", "file", fn, "bytes", len(labelData))
		hasLabel = false
	}

	pc := NewWithPrealloc(lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, errors.Wrapf(err, "reading LAS point %d of %q", i, fn)
		}
		data := p.PointData()

		v := r3.Vector{X: data.X, Y: data.Y, Z: data.Z}
		dd := NewBasicData()
		if hasLabel {
			dd = dd.SetLabel(int(int64(binary.LittleEndian.Uint64(labelData[i*8 : (i*8)+8]))))
		}
		pc.Append(v, dd)
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file. Normals are not stored.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	meta := cloud.MetaData()
	minP, maxP := meta.Bounds()
	for _, v := range []float64{minP.X, minP.Y, minP.Z, maxP.X, maxP.Y, maxP.Z} {
		if v < -lasMaxCoordinate || v > lasMaxCoordinate {
			return errors.Errorf("point coordinate %f outside of LAS range [%f,%f]", v, -lasMaxCoordinate, lasMaxCoordinate)
		}
	}

	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return errors.Wrapf(err, "creating point cloud %q", fn)
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: 0,
		XScaleFactor:  lasScale,
		YScaleFactor:  lasScale,
		ZScaleFactor:  lasScale,
	}); err != nil {
		return
	}

	var pLabels []int
	if meta.HasLabel {
		pLabels = make([]int, 0, cloud.Size())
	}
	var lastErr error
	cloud.Iterate(0, 0, func(_ int, pos r3.Vector, d Data) bool {
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		if meta.HasLabel {
			pLabels = append(pLabels, d.Label())
		}
		if lerr := lf.AddLasPoint(pr0); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if lastErr != nil {
		err = lastErr
		return
	}
	if meta.HasLabel {
		var buf bytes.Buffer
		for _, v := range pLabels {
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, uint64(v))
			buf.Write(b)
		}
		if err = lf.AddVLR(lidario.VLR{
			UserID:                  "",
			Description:             pointLabelDataTag,
			BinaryData:              buf.Bytes(),
			RecordLengthAfterHeader: buf.Len(),
		}); err != nil {
			return
		}
	}

	// nolint:nakedret
	return
}

// String returns a short human readable summary of the cloud.
func String(pc PointCloud) string {
	meta := pc.MetaData()
	minP, maxP := meta.Bounds()
	return fmt.Sprintf("%d points, bounds %v to %v, labels=%v normals=%v", pc.Size(), minP, maxP, meta.HasLabel, meta.HasNormal)
}
