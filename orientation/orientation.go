// Package orientation reads the orientation log recorded alongside the scans and turns it
// into rotations expressed in the frame of the first pose.
//
// Each line of the log holds 13 comma separated numbers:
//
//	rot_w, rot_x, rot_y, rot_z, grav_x, grav_y, grav_z,
//	grav_rot_w, grav_rot_x, grav_rot_y, grav_rot_z, timestamp, counter
//
// The first line is a header. The gravity rotation of the first valid line becomes the
// calibration reference of the session and every rotation is left multiplied by it.
package orientation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/logging"
	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

// DefaultLogName is the file name of the orientation log inside a packet directory.
const DefaultLogName = "quaternions_datapacket.csv"

// FieldCount is the number of numeric fields on every log line.
const FieldCount = 13

// ParseError describes a log line that was rejected. Line counts the lines parsed by the
// session so far and Fields is the number of fields read before the failure.
type ParseError struct {
	Line   int
	Fields int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Fields != FieldCount {
		return fmt.Sprintf("orientation line %d: read %d fields, expected %d", e.Line, e.Fields, FieldCount)
	}
	return fmt.Sprintf("orientation line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Sample is one parsed log line.
type Sample struct {
	// Rotation is the normalized raw rotation of the line.
	Rotation        quat.Number
	Gravity         r3.Vector
	GravityRotation quat.Number
	// Calibrated is Rotation re-expressed relative to the session reference.
	Calibrated quat.Number
	Timestamp  int64
	Sequence   int
}

// Reading is a calibrated rotation with the time it was taken.
type Reading struct {
	Rotation  quat.Number
	Timestamp int64
}

// Readings is an ordered orientation log.
type Readings []Reading

// Quaternions returns the calibrated rotations in order.
func (rs Readings) Quaternions() []quat.Number {
	return lo.Map(rs, func(r Reading, _ int) quat.Number { return r.Rotation })
}

// Timestamps returns the timestamps in order.
func (rs Readings) Timestamps() []int64 {
	return lo.Map(rs, func(r Reading, _ int) int64 { return r.Timestamp })
}

// Session holds the calibration reference for one read of a log. A new session starts
// uncalibrated.
type Session struct {
	logger    logging.Logger
	reference *quat.Number
	lines     int
}

// NewSession returns an uncalibrated session.
func NewSession(logger logging.Logger) *Session {
	return &Session{logger: logger}
}

// Reference returns the calibration reference and whether it has been set.
func (s *Session) Reference() (quat.Number, bool) {
	if s.reference == nil {
		return quat.Number{}, false
	}
	return *s.reference, true
}

// ParseLine parses one log line. The first line that parses sets the calibration
// reference; later lines never change it. Rejected lines return a *ParseError.
func (s *Session) ParseLine(line string) (Sample, error) {
	s.lines++
	lineNum := s.lines

	tokens := strings.Split(strings.TrimSpace(line), ",")
	if len(tokens) != FieldCount {
		return Sample{}, &ParseError{Line: lineNum, Fields: len(tokens), Err: errors.New("wrong field count")}
	}
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}

	var values [FieldCount - 2]float64
	for i := range values {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return Sample{}, &ParseError{Line: lineNum, Fields: i, Err: err}
		}
		values[i] = v
	}
	timestamp, err := strconv.ParseInt(tokens[11], 10, 64)
	if err != nil {
		return Sample{}, &ParseError{Line: lineNum, Fields: 11, Err: err}
	}
	counter, err := strconv.Atoi(tokens[12])
	if err != nil {
		return Sample{}, &ParseError{Line: lineNum, Fields: 12, Err: err}
	}

	rotation, err := spatialmath.NormalizeQuaternion(quat.Number{Real: values[0], Imag: values[1], Jmag: values[2], Kmag: values[3]})
	if err != nil {
		return Sample{}, &ParseError{Line: lineNum, Fields: FieldCount, Err: errors.Wrap(err, "rotation")}
	}
	gravityRotation, err := spatialmath.NormalizeQuaternion(
		quat.Number{Real: values[7], Imag: values[8], Jmag: values[9], Kmag: values[10]})
	if err != nil {
		return Sample{}, &ParseError{Line: lineNum, Fields: FieldCount, Err: errors.Wrap(err, "gravity rotation")}
	}

	if s.reference == nil {
		ref := gravityRotation
		s.reference = &ref
	}

	return Sample{
		Rotation:        rotation,
		Gravity:         r3.Vector{X: values[4], Y: values[5], Z: values[6]},
		GravityRotation: gravityRotation,
		Calibrated:      quat.Mul(*s.reference, rotation),
		Timestamp:       timestamp,
		Sequence:        counter,
	}, nil
}

// Read consumes a whole log. The header line and blank lines are skipped; rejected lines
// are logged and skipped.
func (s *Session) Read(r io.Reader) (Readings, error) {
	scanner := bufio.NewScanner(r)
	var readings Readings
	fileLine := 0
	for scanner.Scan() {
		line := scanner.Text()
		fileLine++
		if fileLine == 1 {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		sample, err := s.ParseLine(line)
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				s.logger.Warnw("skipping orientation line", "line", fileLine, "fields", perr.Fields, "error", perr.Err)
				continue
			}
			return nil, err
		}
		readings = append(readings, Reading{Rotation: sample.Calibrated, Timestamp: sample.Timestamp})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading orientation log")
	}
	return readings, nil
}

// ReadFile reads the log at path in a fresh session. Failing to open the file is the only
// fatal error.
func ReadFile(path string, logger logging.Logger) (Readings, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening orientation log %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	readings, err := NewSession(logger).Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading orientation log %q", path)
	}
	logger.Debugw("read orientation log", "path", path, "readings", len(readings))
	return readings, nil
}

// ReadDir reads DefaultLogName inside dir.
func ReadDir(dir string, logger logging.Logger) (Readings, error) {
	return ReadFile(filepath.Join(dir, DefaultLogName), logger)
}
