// Structured logging for the kappa stage
//
// Per-component loggers with prefixes and structured fields, backed by zap.
// Output is either human-readable console text or JSON.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota

	// INFO level for general informational messages
	INFO

	// WARN level for warning messages
	WARN

	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zap() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a string into a LogLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	// FormatText outputs human-readable console format
	FormatText OutputFormat = iota
	// FormatJSON outputs machine-readable JSON format
	FormatJSON
)

// ParseFormat parses "json" or "console"/"text"
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Logger is a component logger
type Logger struct {
	mu        sync.Mutex
	prefix    string
	writer    zapcore.WriteSyncer
	level     zap.AtomicLevel
	outFormat OutputFormat
	z         *zap.Logger
}

// Entry represents a single log entry with fields
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	l := &Logger{
		prefix: prefix,
		writer: zapcore.Lock(os.Stderr),
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
	l.rebuild()
	return l
}

// NewNop creates a logger that discards everything
func NewNop() *Logger {
	l := New("")
	l.SetWriter(io.Discard)
	return l
}

func (l *Logger) rebuild() {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if l.outFormat == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	z := zap.New(zapcore.NewCore(enc, l.writer, l.level))
	if l.prefix != "" {
		z = z.Named(l.prefix)
	}
	l.z = z
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zap())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = zapcore.Lock(zapcore.AddSync(w))
	l.rebuild()
}

// SetFormat sets the output format (FormatText or FormatJSON)
func (l *Logger) SetFormat(format OutputFormat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outFormat = format
	l.rebuild()
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.z
}

// Sync flushes buffered output
func (l *Logger) Sync() error {
	return l.Zap().Sync()
}

// WithPrefix returns a child logger sharing writer, level and format
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := prefix
	if l.prefix != "" {
		name = l.prefix + "." + prefix
	}
	child := &Logger{
		prefix:    name,
		writer:    l.writer,
		level:     l.level,
		outFormat: l.outFormat,
	}
	child.rebuild()
	return child
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Entry{logger: l, fields: cp}
}

// WithError returns an Entry with an error field
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err)
}

func (l *Logger) log(level LogLevel, msg string, args []interface{}, fields Fields) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	z := l.Zap()
	ce := z.Check(level.zap(), msg)
	if ce == nil {
		return
	}
	ce.Write(zapFields(fields)...)
}

func zapFields(fields Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args, nil) }

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) { l.log(INFO, msg, args, nil) }

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(WARN, msg, args, nil) }

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args, nil) }

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	fields := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields}
}

// WithFields adds fields to the entry
func (e *Entry) WithFields(more Fields) *Entry {
	fields := make(Fields, len(e.fields)+len(more))
	for k, v := range e.fields {
		fields[k] = v
	}
	for k, v := range more {
		fields[k] = v
	}
	return &Entry{logger: e.logger, fields: fields}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err)
}

func (e *Entry) Debug(msg string) { e.logger.log(DEBUG, msg, nil, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.log(INFO, msg, nil, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.log(WARN, msg, nil, e.fields) }
func (e *Entry) Error(msg string) { e.logger.log(ERROR, msg, nil, e.fields) }

// SetDefaultLogger replaces the root logger
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetLogger returns a component logger derived from the root logger
func GetLogger(prefix string) *Logger {
	defaultMu.Lock()
	root := defaultLogger
	defaultMu.Unlock()
	return root.WithPrefix(prefix)
}

func init() {
	defaultLogger = New("")
	ConfigureFromEnv(defaultLogger)
}

// ConfigureFromEnv applies KAPPA_LOG_LEVEL and KAPPA_LOG_FORMAT
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("KAPPA_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	if v := os.Getenv("KAPPA_LOG_FORMAT"); v != "" {
		l.SetFormat(ParseFormat(v))
	}
}
