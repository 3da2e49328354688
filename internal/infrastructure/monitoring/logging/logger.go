// Package logging provides the structured logging facade used by every
// component of the discovery engine and its zap-backed implementation.
// Components depend on Logger only; go.uber.org/zap is not imported outside
// this package.
//
// Initialisation order in cmd/*/main.go:
//
//  1. Load configuration.
//  2. NewLogger(cfg.Log), then SetDefault.
//  3. Construct engine components, injecting the Logger.
package logging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted by LogConfig.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ─────────────────────────────────────────────────────────────────────────────
// Field
// ─────────────────────────────────────────────────────────────────────────────

// Field is a typed key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String constructs a string Field.
func String(key, val string) Field { return Field{Key: key, Value: val} }

// Int constructs an int Field.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 constructs an int64 Field.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Float64 constructs a float64 Field.
func Float64(key string, val float64) Field { return Field{Key: key, Value: val} }

// Bool constructs a bool Field.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Duration constructs a time.Duration Field.
func Duration(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// Any constructs a Field with an arbitrary value.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }

// Err captures err under the key "error". A nil err is logged as "<nil>".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Error is an alias of Err kept for call sites that read better with it.
func Error(err error) Field { return Err(err) }

// Domain keys shared by the workflow components so log queries stay uniform.

// SessionID tags an entry with a workflow session id.
func SessionID(id string) Field { return Field{Key: "session_id", Value: id} }

// ProteinID tags an entry with a protein id.
func ProteinID(id string) Field { return Field{Key: "protein_id", Value: id} }

// Stage tags an entry with a workflow stage or pipeline stage name.
func Stage(name string) Field { return Field{Key: "stage", Value: name} }

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger is the structured logging contract injected into every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process. Startup failures only.
	Fatal(msg string, fields ...Field)

	// With returns a child Logger carrying fields on every entry.
	With(fields ...Field) Logger

	// Named appends name to the logger name ("engine" -> "engine.docking").
	Named(name string) Logger

	// Sync flushes buffered entries.
	Sync() error
}

// LogConfig carries the parameters required to build a Logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// Format is "json" or "console". Defaults to json.
	Format string `mapstructure:"format" yaml:"format" json:"format"`

	// OutputPaths defaults to ["stdout"].
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths" json:"output_paths"`

	// ErrorOutputPaths defaults to ["stderr"].
	ErrorOutputPaths []string `mapstructure:"error_output_paths" yaml:"error_output_paths" json:"error_output_paths"`
}

// ─────────────────────────────────────────────────────────────────────────────
// zapLogger
// ─────────────────────────────────────────────────────────────────────────────

type zapLogger struct {
	z *zap.Logger
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case float64:
			out = append(out, zap.Float64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		case []string:
			out = append(out, zap.Strings(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, toZapFields(fields)...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

func (l *zapLogger) Sync() error { return l.z.Sync() }

// ParseLevel converts a level name to a zapcore.Level. Unknown names map to
// info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "warning":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a zap-backed Logger from cfg.
func NewLogger(cfg LogConfig) (Logger, error) {
	l, _, err := NewLeveledLogger(cfg)
	return l, err
}

// LevelController changes the minimum level of a running Logger.
type LevelController interface {
	SetLevel(name string)
	Level() string
}

type atomicLevel struct{ lvl zap.AtomicLevel }

func (a atomicLevel) SetLevel(name string) { a.lvl.SetLevel(ParseLevel(name)) }
func (a atomicLevel) Level() string        { return a.lvl.Level().String() }

// NewLeveledLogger is NewLogger plus a handle for changing the level at
// runtime, e.g. on config reload.
func NewLeveledLogger(cfg LogConfig) (Logger, LevelController, error) {
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	console := strings.EqualFold(cfg.Format, "console")

	encCfg := zap.NewProductionEncoderConfig()
	encoding := "json"
	if console {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoding = "console"
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	zapCfg := zap.Config{
		Level:            level,
		Development:      console,
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, fmt.Errorf("logging: failed to build zap logger: %w", err)
	}
	return &zapLogger{z: z}, atomicLevel{lvl: level}, nil
}

// NewLoggerFromCore wraps an existing zapcore.Core. Used by tests with an
// in-memory buffer.
func NewLoggerFromCore(core zapcore.Core) Logger {
	return &zapLogger{z: zap.New(core, zap.AddCallerSkip(1))}
}

// ─────────────────────────────────────────────────────────────────────────────
// nopLogger
// ─────────────────────────────────────────────────────────────────────────────

type nopLogger struct{}

func (nopLogger) Debug(_ string, _ ...Field) {}
func (nopLogger) Info(_ string, _ ...Field)  {}
func (nopLogger) Warn(_ string, _ ...Field)  {}
func (nopLogger) Error(_ string, _ ...Field) {}
func (nopLogger) Fatal(_ string, _ ...Field) {}
func (n nopLogger) With(_ ...Field) Logger   { return n }
func (n nopLogger) Named(_ string) Logger    { return n }
func (nopLogger) Sync() error                { return nil }

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return nopLogger{} }

// ─────────────────────────────────────────────────────────────────────────────
// Process default and context propagation
// ─────────────────────────────────────────────────────────────────────────────

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = nopLogger{}
)

// SetDefault replaces the process-wide default Logger. nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide default Logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger stored in ctx, or Default().
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
			return l
		}
	}
	return Default()
}
