package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Format represents the logging output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger wraps a zerolog logger with format options
type Logger struct {
	format Format
	level  zerolog.Level
	writer io.Writer
	zl     zerolog.Logger
	mu     sync.RWMutex
}

// Global logger instance
var defaultLogger = newLogger(FormatText, zerolog.InfoLevel, os.Stderr)

func newLogger(format Format, level zerolog.Level, w io.Writer) *Logger {
	l := &Logger{format: format, level: level, writer: w}
	l.rebuild()
	return l
}

// rebuild recreates the zerolog backend. Must be called with the lock held.
func (l *Logger) rebuild() {
	out := l.writer
	if l.format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: l.writer, TimeFormat: consoleTimeFormat, NoColor: true}
	}
	l.zl = zerolog.New(out).Level(l.level).With().Timestamp().Logger()
}

func (l *Logger) current() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

// Setup configures format, level and writer in one call
func Setup(format Format, level string, w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.format = format
	defaultLogger.level = ParseLevel(level)
	if w != nil {
		defaultLogger.writer = w
	}
	defaultLogger.rebuild()
}

// SetFormat sets the logging format globally
func SetFormat(format Format) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.format = format
	defaultLogger.rebuild()
}

// SetLevel sets the minimum level written
func SetLevel(level string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = ParseLevel(level)
	defaultLogger.rebuild()
}

// SetWriter sets the output writer
func SetWriter(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.writer = w
	defaultLogger.rebuild()
}

// GetFormat returns the current logging format
func GetFormat() Format {
	defaultLogger.mu.RLock()
	defer defaultLogger.mu.RUnlock()
	return defaultLogger.format
}

// ParseLevel converts a level name to a zerolog level, defaulting to info
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a debug message
func Debug(component, message string, data any) {
	write(zerolog.DebugLevel, component, message, data)
}

// Info logs an info message
func Info(component, message string, data any) {
	write(zerolog.InfoLevel, component, message, data)
}

// Warn logs a warning
func Warn(component, message string, data any) {
	write(zerolog.WarnLevel, component, message, data)
}

// Error logs an error message
func Error(component, message string, err error) {
	zl := defaultLogger.current()
	e := withComponent(zl.Error(), component)
	if err != nil {
		e = e.Err(err)
	}
	e.Msg(textPrefix(component) + message)
}

// SampleResult logs a recorded measurement sample
func SampleResult(sessionID, kind string, value float64) {
	zl := defaultLogger.current()
	withComponent(zl.Debug(), "Sample").
		Str("session", sessionID).
		Str("kind", kind).
		Float64("value", value).
		Msg(textPrefix("Sample") + kind)
}

// Transition logs a session phase change
func Transition(sessionID, from, to string, at time.Time) {
	zl := defaultLogger.current()
	withComponent(zl.Debug(), "Session").
		Str("session", sessionID).
		Str("from", from).
		Str("to", to).
		Time("at", at).
		Msg(textPrefix("Session") + from + " -> " + to)
}

func write(level zerolog.Level, component, message string, data any) {
	zl := defaultLogger.current()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	e = withComponent(e, component)
	if data != nil {
		e = e.Interface("data", data)
	}
	e.Msg(textPrefix(component) + message)
}

// withComponent adds the component field for JSON output. Text output
// shows it in the message prefix only.
func withComponent(e *zerolog.Event, component string) *zerolog.Event {
	if GetFormat() != FormatJSON {
		return e
	}
	return e.Str("component", component)
}

// textPrefix keeps the "[Component] message" style for console output.
// JSON output carries the component as a field instead.
func textPrefix(component string) string {
	if GetFormat() == FormatJSON {
		return ""
	}
	return "[" + component + "] "
}
