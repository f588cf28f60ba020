// Package logging provides the leveled, structured logger used by every
// node service.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug for per-message tracing
	LevelDebug Level = iota
	// LevelInfo for deliveries and protocol milestones
	LevelInfo
	// LevelWarn for peer failures and rejected requests
	LevelWarn
	// LevelError for errors that stop a component
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the logging interface accepted by every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// F is a convenience function to create a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

// Debug implements Logger.
func (NoopLogger) Debug(string, ...Field) {}

// Info implements Logger.
func (NoopLogger) Info(string, ...Field) {}

// Warn implements Logger.
func (NoopLogger) Warn(string, ...Field) {}

// Error implements Logger.
func (NoopLogger) Error(string, ...Field) {}

// DefaultLogger writes "[LEVEL] [PROC n] msg k=v ..." lines.
type DefaultLogger struct {
	minLevel Level
	prefix   string
	logger   *log.Logger
}

// NewDefaultLogger creates a logger writing to stderr for process proc.
func NewDefaultLogger(minLevel Level, proc int) *DefaultLogger {
	return NewWriterLogger(os.Stderr, minLevel, proc)
}

// NewWriterLogger is NewDefaultLogger with an explicit destination.
func NewWriterLogger(w io.Writer, minLevel Level, proc int) *DefaultLogger {
	return &DefaultLogger{
		minLevel: minLevel,
		prefix:   fmt.Sprintf("[PROC %d] ", proc),
		logger:   log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// Debug implements Logger.
func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	if l.minLevel <= LevelDebug {
		l.log(LevelDebug, msg, fields...)
	}
}

// Info implements Logger.
func (l *DefaultLogger) Info(msg string, fields ...Field) {
	if l.minLevel <= LevelInfo {
		l.log(LevelInfo, msg, fields...)
	}
}

// Warn implements Logger.
func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	if l.minLevel <= LevelWarn {
		l.log(LevelWarn, msg, fields...)
	}
}

// Error implements Logger.
func (l *DefaultLogger) Error(msg string, fields ...Field) {
	if l.minLevel <= LevelError {
		l.log(LevelError, msg, fields...)
	}
}

func (l *DefaultLogger) log(level Level, msg string, fields ...Field) {
	if len(fields) == 0 {
		l.logger.Printf("[%s] %s%s", level, l.prefix, msg)
		return
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		switch v := f.Value.(type) {
		case string:
			b.WriteString(v)
		case error:
			b.WriteString(v.Error())
		default:
			b.WriteString(fmt.Sprint(v))
		}
	}

	l.logger.Printf("[%s] %s%s %s", level, l.prefix, msg, b.String())
}
