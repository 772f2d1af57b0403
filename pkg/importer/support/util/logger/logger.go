// Package logger provides the logging utility used across the import engine.
// It keeps a package-level API (Debugf, Infof, ...) backed by a logrus logger so that
// every component logs through one configurable sink in either JSON or text format.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is used for general informational messages.
	LevelInfo
	// LevelWarn is used for potential issues.
	LevelWarn
	// LevelError is used for error messages.
	LevelError
	// LevelFatal is used for errors that terminate the application.
	LevelFatal
)

// Fields is a set of structured fields attached to a log entry.
type Fields = logrus.Fields

// Entry is a log entry carrying fields.
type Entry = logrus.Entry

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	mu   sync.RWMutex
	base = newBase(os.Stderr, "text")
	root = base.WithField("service", "surfin-import")
)

func newBase(out io.Writer, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	applyFormat(l, format)
	return l
}

func applyFormat(l *logrus.Logger, format string) {
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
		return
	}
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	})
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// An invalid value falls back to INFO.
func SetLogLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		base.SetLevel(logrus.DebugLevel)
	case "INFO":
		base.SetLevel(logrus.InfoLevel)
	case "WARN", "WARNING":
		base.SetLevel(logrus.WarnLevel)
	case "ERROR":
		base.SetLevel(logrus.ErrorLevel)
	case "FATAL":
		base.SetLevel(logrus.FatalLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
		root.Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", level)
	}
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()

	switch base.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel:
		return LevelError
	default:
		return LevelFatal
	}
}

// SetFormat switches between "json" and "text" output.
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	applyFormat(base, format)
}

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// SetServiceName sets the service field attached to every entry.
func SetServiceName(name string) {
	mu.Lock()
	defer mu.Unlock()
	root = base.WithField("service", name)
}

func entry() *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// WithFields returns an entry carrying the given structured fields.
func WithFields(fields Fields) *logrus.Entry {
	return entry().WithFields(fields)
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	entry().Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	entry().Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	entry().Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	entry().Errorf(format, v...)
}

// Fatalf outputs a FATAL level log message and terminates the program.
func Fatalf(format string, v ...interface{}) {
	entry().Fatalf(format, v...)
}

// Writer adapts the logger to an io.Writer at the given level, one entry per write.
type Writer struct {
	Level LogLevel
}

// Write implements io.Writer.
func (w Writer) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	switch w.Level {
	case LevelDebug:
		Debugf("%s", msg)
	case LevelWarn:
		Warnf("%s", msg)
	case LevelError, LevelFatal:
		Errorf("%s", msg)
	default:
		Infof("%s", msg)
	}
	return len(p), nil
}

// Printf logs at INFO level. It lets the logger satisfy Printf-style interfaces.
func (w Writer) Printf(format string, v ...interface{}) {
	_, _ = w.Write([]byte(fmt.Sprintf(format, v...)))
}
