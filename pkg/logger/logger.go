package logger

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"
)

// Level represents log level
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelDebug Level = "DEBUG"
)

// Logger provides structured logging
type Logger struct {
	*log.Logger
	debug bool
}

// New creates a new logger writing to stdout
func New() *Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests pass io.Discard or a buffer.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{
		Logger: log.New(w, "", 0),
		debug:  true,
	}
}

// SetDebug toggles DEBUG output. The sample path logs dropped frames at
// DEBUG, which is noisy on a busy link.
func (l *Logger) SetDebug(enabled bool) {
	l.debug = enabled
}

// Log writes a structured log entry
func (l *Logger) Log(level Level, message string, fields ...Field) {
	if level == LevelDebug && !l.debug {
		return
	}
	timestamp := time.Now().Format(time.RFC3339)
	entry := formatLogEntry(timestamp, string(level), message, fields...)
	l.Logger.Println(entry)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Field) {
	l.Log(LevelInfo, message, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Field) {
	l.Log(LevelWarn, message, fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Field) {
	l.Log(LevelError, message, fields...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Field) {
	l.Log(LevelDebug, message, fields...)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value string
}

// F creates a Field
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates a Field from an integer value
func Int(key string, value int) Field {
	return Field{Key: key, Value: strconv.Itoa(value)}
}

// Err creates an "error" Field; a nil error renders as "<nil>"
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

func formatLogEntry(timestamp, level, message string, fields ...Field) string {
	entry := timestamp + " [" + level + "] " + message
	if len(fields) > 0 {
		entry += " |"
		for _, field := range fields {
			entry += " " + field.Key + "=" + field.Value
		}
	}
	return entry
}
