// Package logging provides structured logging for gridlink.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Level represents a log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps a configuration string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides structured logging. Loggers derived with WithFields share
// the output and level of their parent.
type Logger struct {
	base   *logrus.Logger
	fields logrus.Fields
}

// LogEntry is the JSON shape of one log line.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		DataKey:         "fields",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

// NewLogger creates a new JSON logger writing to stderr.
func NewLogger(level Level) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(jsonFormatter())
	base.SetLevel(level.logrus())
	return &Logger{base: base, fields: logrus.Fields{}}
}

// New builds a logger from configuration strings (level, "json" or "text").
func New(level, format string) *Logger {
	l := NewLogger(ParseLevel(level))
	l.SetFormat(format)
	return l
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{base: l.base, fields: merged}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(logrus.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(logrus.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(logrus.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(logrus.ErrorLevel, msg, fields...)
}

// ErrorErr logs an error message with an error value.
func (l *Logger) ErrorErr(msg string, err error, fields ...map[string]any) {
	combined := map[string]any{"error": err.Error()}
	for _, f := range fields {
		for k, v := range f {
			combined[k] = v
		}
	}
	l.log(logrus.ErrorLevel, msg, combined)
}

// Entry exposes the underlying logrus entry, for libraries that accept a
// printf-style logger (badger, for one).
func (l *Logger) Entry() *logrus.Entry {
	return l.base.WithFields(l.fields)
}

func (l *Logger) log(level logrus.Level, msg string, fields ...map[string]any) {
	if !l.base.IsLevelEnabled(level) {
		return
	}
	entry := l.base.WithFields(l.fields)
	for _, f := range fields {
		entry = entry.WithFields(logrus.Fields(f))
	}
	entry.Log(level, msg)
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level Level) {
	l.base.SetLevel(level.logrus())
}

// SetFormat switches between "json" (default) and "text" output.
func (l *Logger) SetFormat(format string) {
	if strings.EqualFold(format, "text") {
		l.base.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
		return
	}
	l.base.SetFormatter(jsonFormatter())
}

// Global logger instance
var global = NewLogger(LevelInfo)

// SetGlobal sets the global logger.
func SetGlobal(l *Logger) {
	global = l
}

// Global returns the global logger.
func Global() *Logger {
	return global
}

// Debug logs to the global logger.
func Debug(msg string, fields ...map[string]any) {
	global.Debug(msg, fields...)
}

// Info logs to the global logger.
func Info(msg string, fields ...map[string]any) {
	global.Info(msg, fields...)
}

// Warn logs to the global logger.
func Warn(msg string, fields ...map[string]any) {
	global.Warn(msg, fields...)
}

// Error logs to the global logger.
func Error(msg string, fields ...map[string]any) {
	global.Error(msg, fields...)
}

// ErrorErr logs to the global logger with an error.
func ErrorErr(msg string, err error, fields ...map[string]any) {
	global.ErrorErr(msg, err, fields...)
}

// WithFields returns a new logger from global with additional fields.
func WithFields(fields map[string]any) *Logger {
	return global.WithFields(fields)
}
