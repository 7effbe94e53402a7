// Package logging wraps zerolog behind a small Logger interface so
// components log with typed fields and tests can swap in a no-op logger.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context values set by this package.
type ContextKey string

// RequestIDKey carries the per-request correlation id.
const RequestIDKey ContextKey = "request_id"

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum severity that gets emitted.
	Level Level

	// ServiceName is stamped on every entry.
	ServiceName string

	// JSONFormat selects JSON output; false gives the console writer.
	JSONFormat bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// DefaultConfig returns console output at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "meetscribe",
		Output:      os.Stdout,
	}
}

// Logger is the structured logging interface used throughout the service.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger with the fields attached to every entry.
	With(fields ...Field) Logger

	// WithContext attaches the request id from ctx, when present.
	WithContext(ctx context.Context) Logger
}

// Field is one key-value pair.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err builds the conventional error field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

type logger struct {
	zl zerolog.Logger
}

// NewLogger creates a Logger from cfg. A nil cfg means DefaultConfig.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(levelOf(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		zl = zl.Str("service_name", cfg.ServiceName)
	}
	return &logger{zl: zl.Logger()}
}

func levelOf(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) {
	emit(l.zl.Debug(), msg, fields)
}

func (l *logger) Info(msg string, fields ...Field) {
	emit(l.zl.Info(), msg, fields)
}

func (l *logger) Warn(msg string, fields ...Field) {
	emit(l.zl.Warn(), msg, fields)
}

func (l *logger) Error(msg string, fields ...Field) {
	emit(l.zl.Error(), msg, fields)
}

func (l *logger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			ctx = ctx.Err(err)
			continue
		}
		ctx = ctx.Fields(map[string]interface{}{f.Key: f.Value})
	}
	return &logger{zl: ctx.Logger()}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return &logger{zl: l.zl.With().Str("request_id", id).Logger()}
	}
	return l
}

func emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case float64:
			event = event.Float64(f.Key, v)
		case bool:
			event = event.Bool(f.Key, v)
		case error:
			event = event.Err(v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case time.Time:
			event = event.Time(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}

// nopLogger discards everything. Used by tests.
type nopLogger struct{}

func (n *nopLogger) Debug(msg string, fields ...Field)      {}
func (n *nopLogger) Info(msg string, fields ...Field)       {}
func (n *nopLogger) Warn(msg string, fields ...Field)       {}
func (n *nopLogger) Error(msg string, fields ...Field)      {}
func (n *nopLogger) With(fields ...Field) Logger            { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger { return n }

// NewNopLogger returns a Logger that discards all output.
func NewNopLogger() Logger {
	return &nopLogger{}
}
