package common

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestLogLevel is the level used by tests that do not care.
const TestLogLevel = logrus.InfoLevel

// testWriter forwards log lines to t.Log, so that logs only show for failed
// tests or with -v.
type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(d []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(d), "\n"))
	return len(d), nil
}

// NewTestLogger returns a logger writing through t.Log.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.Out = testWriter{t: t}
	logger.Level = level
	return logger
}

// NewTestEntry is NewTestLogger wrapped in an Entry with a "prefix" field.
func NewTestEntry(t testing.TB, level logrus.Level) *logrus.Entry {
	return NewTestLogger(t, level).WithField("prefix", t.Name())
}
