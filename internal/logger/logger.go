package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/juju/lumberjack/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's DebugLevel.
const TraceLevel = zapcore.DebugLevel - 1

type Logger interface {
	Trace(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal records the entry at FATAL severity. It does not exit.
	Fatal(msg string, keysAndValues ...any)
	// Console prints to the console sink only; the entry is never persisted.
	Console(msg string, keysAndValues ...any)
}

// Options configures the sinks built by New.
type Options struct {
	Enabled    bool
	Level      string
	Console    bool
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// zapLogger wraps a *zap.SugaredLogger and implements Logger.
type zapLogger struct {
	sugar   *zap.SugaredLogger
	console *zap.SugaredLogger
}

// Ensure zapLogger satisfies Logger.
var _ Logger = (*zapLogger)(nil)

// Trace logs at TraceLevel. keysAndValues are alternating key/value pairs.
func (l *zapLogger) Trace(msg string, keysAndValues ...any) {
	l.sugar.Logw(TraceLevel, msg, keysAndValues...)
}

// Debug logs at DebugLevel.
func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs at InfoLevel.
func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs at WarnLevel.
func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs at ErrorLevel.
func (l *zapLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Fatal logs at FatalLevel. The fatal hook installed by New keeps the process alive.
func (l *zapLogger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

// Console logs at InfoLevel on the console core only.
func (l *zapLogger) Console(msg string, keysAndValues ...any) {
	l.console.Infow(msg, keysAndValues...)
}

// continueOnFatal replaces zap's default os.Exit after a fatal entry.
type continueOnFatal struct{}

func (continueOnFatal) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

// ParseLevel maps a level name onto a zap level, accepting "trace".
func ParseLevel(name string) (zapcore.Level, error) {
	if strings.EqualFold(strings.TrimSpace(name), "trace") {
		return TraceLevel, nil
	}
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(name)
}

// encodeLevel prints TRACE for the custom level and defers to next otherwise.
func encodeLevel(next zapcore.LevelEncoder) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == TraceLevel {
			enc.AppendString("TRACE")
			return
		}
		next(l, enc)
	}
}

// New builds a Logger from opts. A file sink that cannot be set up is
// reported on stderr and dropped; New only fails on an invalid level.
func New(opts Options) (Logger, error) {
	if !opts.Enabled {
		return Nop(), nil
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}
	enabler := zap.NewAtomicLevelAt(level)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCfg.EncodeLevel = encodeLevel(zapcore.CapitalColorLevelEncoder)

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCfg.EncodeLevel = encodeLevel(zapcore.CapitalLevelEncoder)

	consoleCore := zapcore.NewNopCore()
	if opts.Console {
		consoleCore = zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stdout),
			enabler,
		)
	}

	cores := []zapcore.Core{consoleCore}
	if opts.File != "" {
		if err := probeFile(opts.File); err != nil {
			fmt.Fprintf(os.Stderr, "logger: file sink disabled: %v\n", err)
		} else {
			writer := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				Compress:   true,
			}
			cores = append(cores, zapcore.NewCore(
				zapcore.NewConsoleEncoder(fileCfg),
				zapcore.AddSync(writer),
				enabler,
			))
		}
	}

	zapOpts := []zap.Option{
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.WithFatalHook(continueOnFatal{}),
	}
	base := zap.New(zapcore.NewTee(cores...), zapOpts...)
	console := zap.New(consoleCore, zapOpts...)

	return &zapLogger{sugar: base.Sugar(), console: console.Sugar()}, nil
}

// probeFile makes sure the log file can be opened for appending.
func probeFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	return f.Close()
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	nop := zap.NewNop().Sugar()
	return &zapLogger{sugar: nop, console: nop}
}

// Sync flushes any buffered log entries. Call at program exit.
func Sync(l Logger) {
	if zl, ok := l.(*zapLogger); ok {
		_ = zl.sugar.Sync()
		_ = zl.console.Sync()
	}
}
