// Package logger provides the level-based logging facade used across the batch engine.
// Messages are emitted through a shared logrus logger so that job and step scoped fields
// can be attached with WithFields and the output format switched between text and JSON.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields is an alias of logrus.Fields so callers do not import logrus directly.
type Fields = logrus.Fields

var std = newStdLogger()

func newStdLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR" and "FATAL" (case-insensitive).
// Unknown values fall back to INFO and are reported as a warning.
func SetLogLevel(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		std.SetLevel(logrus.DebugLevel)
	case "INFO", "":
		std.SetLevel(logrus.InfoLevel)
	case "WARN", "WARNING":
		std.SetLevel(logrus.WarnLevel)
	case "ERROR":
		std.SetLevel(logrus.ErrorLevel)
	case "FATAL":
		std.SetLevel(logrus.FatalLevel)
	default:
		std.SetLevel(logrus.InfoLevel)
		std.Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", level)
	}
}

// GetLogLevel returns the current level name in upper case.
func GetLogLevel() string {
	if std.GetLevel() == logrus.WarnLevel {
		return "WARN"
	}
	return strings.ToUpper(std.GetLevel().String())
}

// SetFormat selects the output format: "json" or "text".
func SetFormat(format string) {
	if strings.EqualFold(format, "json") {
		std.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutput redirects log output. Tests use it to capture messages.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// WithFields returns an entry carrying the given fields, e.g. job and step names.
func WithFields(fields Fields) *logrus.Entry {
	return std.WithFields(fields)
}

// Debugf logs a DEBUG message.
func Debugf(format string, v ...interface{}) {
	std.Debugf(format, v...)
}

// Infof logs an INFO message.
func Infof(format string, v ...interface{}) {
	std.Infof(format, v...)
}

// Warnf logs a WARN message.
func Warnf(format string, v ...interface{}) {
	std.Warnf(format, v...)
}

// Errorf logs an ERROR message.
func Errorf(format string, v ...interface{}) {
	std.Errorf(format, v...)
}

// Fatalf logs a FATAL message and terminates the process.
func Fatalf(format string, v ...interface{}) {
	std.Fatalf(format, v...)
}
