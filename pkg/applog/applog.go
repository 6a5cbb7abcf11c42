// Package applog is the application-wide structured logger.
//
// Library packages log through the package-level helpers so that the CLI (or a
// test) can swap the backing zap logger in one place.
package applog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger = zap.Logger

var (
	mu      sync.RWMutex
	opts    = []zap.Option{zap.AddCaller()}
	def     = newLogger(zapcore.InfoLevel, nil)
	logFile *os.File
)

func Info(msg string, fields ...zapcore.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zapcore.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Debug(msg string, fields ...zapcore.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Error(msg string, fields ...zapcore.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// GetLogger returns the current default logger.
func GetLogger() *Logger {
	return current()
}

// SetLogger replaces the default logger and returns the previous one.
func SetLogger(l *Logger) *Logger {
	mu.Lock()
	defer mu.Unlock()
	prev := def
	def = l
	return prev
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return def
}

// Initialize configures the default logger. An empty logPath logs to stderr only.
func Initialize(level string, logPath string) error {
	var f *os.File
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}

		var err error
		f, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file '%s': %w", logPath, err)
		}
	}

	l := newLogger(ParseLevel(level), f)

	mu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	def = l
	mu.Unlock()

	zap.ReplaceGlobals(l)
	return nil
}

// Shutdown flushes the logger and closes the log file, if any.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()

	_ = def.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func getEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	return encoderConfig
}

func newLogger(level zapcore.Level, file *os.File) *Logger {
	encoderConfig := getEncoderConfig()

	consoleConfig := encoderConfig
	consoleConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleConfig),
		zapcore.Lock(os.Stderr),
		level,
	)

	if file == nil {
		return zap.New(consoleCore, opts...)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(file),
		level,
	)
	return zap.New(zapcore.NewTee(consoleCore, fileCore), opts...)
}

type logFieldKey struct{}

func getFields(ctx context.Context) []zap.Field {
	fields, ok := ctx.Value(logFieldKey{}).([]zap.Field)
	if !ok {
		return nil
	}
	return fields
}

func mergeFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	current := getFields(ctx)
	result := make([]zap.Field, 0, len(current)+len(fields))
	seen := make(map[string]struct{}, len(current)+len(fields))
	for _, v := range fields {
		seen[v.Key] = struct{}{}
		result = append(result, v)
	}
	for _, v := range current {
		if _, ok := seen[v.Key]; ok {
			continue
		}
		seen[v.Key] = struct{}{}
		result = append(result, v)
	}
	return result
}

// AddFields returns a context carrying extra fields for FromContext.
func AddFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, logFieldKey{}, mergeFields(ctx, fields...))
}

// FromContext returns the default logger decorated with the context's fields.
func FromContext(ctx context.Context) *Logger {
	return current().With(getFields(ctx)...)
}
