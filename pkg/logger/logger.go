package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gpuindex/pkg/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger
var sugar *zap.SugaredLogger

type traceKey struct{}
type providerKey struct{}

const noTrace = "0"

const timeLayout = "2006-01-02 15:04:05.000"

func init() {
	dev := zap.NewDevelopmentConfig()
	dev.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	dev.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)

	l, _ := dev.Build(zap.AddCallerSkip(1))
	Log = l
	sugar = l.Sugar()
}

// Init replaces the bootstrap logger with one built from cfg
func Init(cfg config.LoggerConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	syncer, err := buildSyncer(cfg)
	if err != nil {
		return err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	Log = zap.New(zapcore.NewCore(enc, syncer, zap.NewAtomicLevelAt(level)), zap.AddCaller(), zap.AddCallerSkip(1))
	sugar = Log.Sugar()
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid logger.level %q: %w", s, err)
	}
	return level, nil
}

func buildSyncer(cfg config.LoggerConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "", "console":
		return zapcore.AddSync(os.Stdout), nil
	case "file", "both":
		path := cfg.File.Path
		if path == "" {
			return nil, fmt.Errorf("logger.file.path is required for %s output", cfg.Output)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		if cfg.Output == "file" {
			return zapcore.AddSync(f), nil
		}
		return zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(f)), nil
	default:
		return nil, fmt.Errorf("unknown logger.output %q", cfg.Output)
	}
}

// WithTraceID returns a context carrying a trace id that prefixes every *Ctx log line
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

// WithProvider tags *Ctx log lines with a provider slug
func WithProvider(ctx context.Context, slug string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, providerKey{}, slug)
}

// TraceID returns the trace id stored in ctx, or "0"
func TraceID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(traceKey{}).(string); ok && id != "" {
			return id
		}
	}
	return noTrace
}

func prefix(ctx context.Context) string {
	p := TraceID(ctx) + "\t"
	if ctx != nil {
		if slug, ok := ctx.Value(providerKey{}).(string); ok && slug != "" {
			p += "[" + slug + "] "
		}
	}
	return p
}

// Info logs structured fields without a request context
func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, append(fields, zap.String("trace_id", noTrace))...)
}

// Warn logs structured fields without a request context
func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, append(fields, zap.String("trace_id", noTrace))...)
}

// Error logs structured fields without a request context
func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, append(fields, zap.String("trace_id", noTrace))...)
}

func DebugCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Debugf(prefix(ctx)+format, args...)
}

func InfoCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Infof(prefix(ctx)+format, args...)
}

func WarnCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Warnf(prefix(ctx)+format, args...)
}

func ErrorCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Errorf(prefix(ctx)+format, args...)
}

func FatalCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Fatalf(prefix(ctx)+format, args...)
}

// Sync flushes any buffered log entries
func Sync() error {
	return Log.Sync()
}
