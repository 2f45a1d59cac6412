package orientation

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

const logHeader = "rot_w,rot_x,rot_y,rot_z,grav_x,grav_y,grav_z,grav_rot_w,grav_rot_x,grav_rot_y,grav_rot_z,timestamp,counter"

// 90 degrees about z for the gravity reference
var (
	s2         = math.Sqrt2 / 2
	firstLine  = "1, 0, 0, 0, 0, 0, -9.81, 0.7071067811865476, 0, 0, 0.7071067811865476, 1000, 0"
	secondLine = "2, 0, 0, 0, 0, 0, -9.81, 1, 0, 0, 0, 1010, 1"
)

func TestParseLineCalibration(t *testing.T) {
	s := NewSession(logging.NewTestLogger(t))
	_, ok := s.Reference()
	test.That(t, ok, test.ShouldBeFalse)

	sample, err := s.ParseLine(firstLine)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sample.Timestamp, test.ShouldEqual, int64(1000))
	test.That(t, sample.Sequence, test.ShouldEqual, 0)
	test.That(t, sample.Gravity.Z, test.ShouldAlmostEqual, -9.81)

	ref, ok := s.Reference()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(ref, quat.Number{Real: s2, Kmag: s2}, 1e-12), test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(sample.Calibrated, ref, 1e-12), test.ShouldBeTrue)

	// the second line has a different gravity rotation that must not replace the reference
	sample, err = s.ParseLine(secondLine)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.QuaternionAlmostEqual(sample.Rotation, spatialmath.IdentityQuaternion(), 1e-12), test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(sample.Calibrated, ref, 1e-12), test.ShouldBeTrue)

	// re-parsing the first line keeps the reference
	_, err = s.ParseLine(firstLine)
	test.That(t, err, test.ShouldBeNil)
	again, _ := s.Reference()
	test.That(t, again, test.ShouldResemble, ref)
}

func TestParseLineUnitNorm(t *testing.T) {
	s := NewSession(logging.NewTestLogger(t))
	lines := []string{
		"0.3, 0.1, -0.2, 0.9, 0, 0, -1, 2, 0.5, 0.5, 0, 1, 1",
		"0.5, 0.5, 0.5, 0.5, 0, 0, -1, 1, 0, 0, 0, 2, 2",
		"-4, 1, 2, 3, 0, 0, -1, 1, 0, 0, 0, 3, 3",
	}
	for _, line := range lines {
		sample, err := s.ParseLine(line)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, math.Abs(quat.Abs(sample.Rotation)-1), test.ShouldBeLessThan, 1e-6)
		test.That(t, math.Abs(quat.Abs(sample.GravityRotation)-1), test.ShouldBeLessThan, 1e-6)
		test.That(t, math.Abs(quat.Abs(sample.Calibrated)-1), test.ShouldBeLessThan, 1e-6)
	}
}

func TestParseLineRejects(t *testing.T) {
	s := NewSession(logging.NewTestLogger(t))

	for _, tc := range []struct {
		name   string
		line   string
		fields int
	}{
		{"too few", "1, 0, 0, 0, 0, 0", 6},
		{"too many", secondLine + ", 7", 14},
		{"not a number", "1, 0, 0, zero, 0, 0, -9.81, 1, 0, 0, 0, 1010, 1", 3},
		{"float timestamp", "1, 0, 0, 0, 0, 0, -9.81, 1, 0, 0, 0, 10.5, 1", 11},
		{"zero rotation", "0, 0, 0, 0, 0, 0, -9.81, 1, 0, 0, 0, 1010, 1", FieldCount},
		{"nan gravity rotation", "1, 0, 0, 0, 0, 0, -9.81, NaN, 0, 0, 0, 1010, 1", FieldCount},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ParseLine(tc.line)
			test.That(t, err, test.ShouldNotBeNil)
			var perr *ParseError
			test.That(t, errors.As(err, &perr), test.ShouldBeTrue)
			test.That(t, perr.Fields, test.ShouldEqual, tc.fields)
		})
	}

	// nothing rejected may calibrate the session
	_, ok := s.Reference()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestRead(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	input := strings.Join([]string{
		logHeader,
		"garbage",
		firstLine,
		"",
		secondLine,
		"1, 2, 3",
	}, "\n")

	readings, err := NewSession(logger).Read(strings.NewReader(input))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(readings), test.ShouldEqual, 2)
	test.That(t, readings.Timestamps(), test.ShouldResemble, []int64{1000, 1010})
	test.That(t, len(readings.Quaternions()), test.ShouldEqual, 2)

	warnings := logs.FilterMessage("skipping orientation line").All()
	test.That(t, len(warnings), test.ShouldEqual, 2)
	test.That(t, warnings[0].ContextMap()["line"], test.ShouldEqual, int64(2))
	test.That(t, warnings[0].ContextMap()["fields"], test.ShouldEqual, int64(1))
	test.That(t, warnings[1].ContextMap()["fields"], test.ShouldEqual, int64(3))
}

func TestReadHeaderOnly(t *testing.T) {
	readings, err := NewSession(logging.NewTestLogger(t)).Read(strings.NewReader(logHeader + "\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldBeEmpty)
}

func TestReadFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	_, err := ReadDir(dir, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, DefaultLogName)

	content := logHeader + "\n" + firstLine + "\n" + secondLine + "\n"
	test.That(t, os.WriteFile(filepath.Join(dir, DefaultLogName), []byte(content), 0o600), test.ShouldBeNil)

	readings, err := ReadDir(dir, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(readings), test.ShouldEqual, 2)

	// every read starts a fresh session, so a second read calibrates from its own first line
	other := logHeader + "\n" + secondLine + "\n"
	otherPath := filepath.Join(dir, "other.csv")
	test.That(t, os.WriteFile(otherPath, []byte(other), 0o600), test.ShouldBeNil)
	readings, err = ReadFile(otherPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.QuaternionAlmostEqual(readings[0].Rotation, spatialmath.IdentityQuaternion(), 1e-12), test.ShouldBeTrue)
}
