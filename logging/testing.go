package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that writes through tb.Log so every line is attributed
// to the test that produced it.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

// Write logs the entry as one tab separated line on the test. Fields are appended as a
// JSON object in the order they were given.
func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	parts := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
	}
	if entry.Caller.Defined {
		parts = append(parts, callerToString(&entry.Caller))
	}
	parts = append(parts, entry.Message)

	var encodeErr error
	if len(fields) > 0 {
		enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, err := enc.EncodeEntry(zapcore.Entry{}, fields)
		if err == nil {
			parts = append(parts, buf.String())
			buf.Free()
		}
		encodeErr = err
	}
	tapp.tb.Log(strings.Join(parts, "\t"))
	return encodeErr
}

// Sync is a no-op.
func (tapp *testAppender) Sync() error {
	return nil
}

// callerToString returns the last directory and file name of the caller with its line,
// e.g. "registration/incremental.go:88".
func callerToString(caller *zapcore.EntryCaller) string {
	return caller.TrimmedPath()
}
