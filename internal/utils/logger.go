package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents an enumeration of log levels
type LogLevel int32

const (
	Critical LogLevel = 50
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var defaultLevel atomic.Int32

func init() {
	defaultLevel.Store(int32(ParseLogLevel(os.Getenv("LOG_LEVEL"))))
}

// ParseLogLevel maps a level name to a LogLevel. Unknown names map to Info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical":
		return Critical
	default:
		return Info
	}
}

// SetDefaultLogLevel changes the level used by loggers created afterwards.
func SetDefaultLogLevel(level LogLevel) {
	defaultLevel.Store(int32(level))
}

// Logger writes leveled lines with key=value pairs
type Logger struct {
	prefix string
	logger *log.Logger
	level  *atomic.Int32
	fields []interface{}
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	level := &atomic.Int32{}
	level.Store(defaultLevel.Load())
	if len(logLevel) > 0 {
		level.Store(int32(logLevel[0]))
	}
	return &Logger{
		prefix: prefix,
		logger: log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		level:  level,
	}
}

// With returns a child logger that appends keyvals to every line.
// The child shares the parent's level.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keyvals))
	fields = append(fields, l.fields...)
	fields = append(fields, keyvals...)
	return &Logger{prefix: l.prefix, logger: l.logger, level: l.level, fields: fields}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.level.Store(int32(logLevel))
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.write(Info, "INFO", msg, keyvals)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.write(Error, "ERROR", msg, keyvals)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.write(Warning, "WARN", msg, keyvals)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.write(Debug, "DEBUG", msg, keyvals)
}

func (l *Logger) write(level LogLevel, tag, msg string, keyvals []interface{}) {
	if LogLevel(l.level.Load()) > level {
		return
	}
	l.logger.Println(formatMessage(tag, msg, l.fields, keyvals))
}

// formatMessage renders "[LEVEL] msg k=v k=v". A trailing key without a value is dropped.
func formatMessage(level, msg string, groups ...[]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for _, keyvals := range groups {
		for i := 0; i+1 < len(keyvals); i += 2 {
			fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
		}
	}
	return b.String()
}
