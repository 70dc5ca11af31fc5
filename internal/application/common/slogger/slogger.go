// Package slogger provides the application's structured logging facade.
// Call sites log through package-level functions with Fields maps; output is
// JSON on stdout by default and reconfigurable once at process start.
package slogger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Fields represents structured logging fields.
type Fields map[string]interface{}

// LoggerManager manages the logger instance with proper encapsulation.
type LoggerManager struct {
	mu     sync.RWMutex
	logger *slog.Logger
}

var (
	defaultManagerInstance *LoggerManager //nolint:gochecknoglobals // Required for singleton logging infrastructure
	defaultManagerOnce     sync.Once      //nolint:gochecknoglobals // Required for thread-safe singleton initialization
)

// getDefaultManager returns the singleton logger manager instance.
func getDefaultManager() *LoggerManager {
	defaultManagerOnce.Do(func() {
		defaultManagerInstance = &LoggerManager{
			logger: newLogger("info", "json"),
		}
	})
	return defaultManagerInstance
}

func newLogger(level, format string) *slog.Logger {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Configure replaces the global logger with one built from the given level
// and format. Intended to be called once during process startup.
func Configure(level, format string) {
	manager := getDefaultManager()
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.logger = newLogger(level, format)
}

// SetGlobalLogger allows setting a custom logger (useful for testing).
func SetGlobalLogger(logger *slog.Logger) {
	manager := getDefaultManager()
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.logger = logger
}

func getLogger() *slog.Logger {
	manager := getDefaultManager()
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return manager.logger
}

func attrs(fields Fields) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, slog.Any(key, value))
	}
	return args
}

// Context-aware logging functions (preferred)

// Debug logs a debug message with context.
func Debug(ctx context.Context, msg string, fields Fields) {
	getLogger().DebugContext(ctx, msg, attrs(fields)...)
}

// Info logs an info message with context.
func Info(ctx context.Context, msg string, fields Fields) {
	getLogger().InfoContext(ctx, msg, attrs(fields)...)
}

// Warn logs a warning message with context.
func Warn(ctx context.Context, msg string, fields Fields) {
	getLogger().WarnContext(ctx, msg, attrs(fields)...)
}

// Error logs an error message with context.
func Error(ctx context.Context, msg string, fields Fields) {
	getLogger().ErrorContext(ctx, msg, attrs(fields)...)
}

// ErrorWithError logs an error message with an error object and context.
func ErrorWithError(ctx context.Context, msg string, err error, fields Fields) {
	merged := make(Fields, len(fields)+1)
	for key, value := range fields {
		merged[key] = value
	}
	if err != nil {
		merged["error"] = err.Error()
	}
	getLogger().ErrorContext(ctx, msg, attrs(merged)...)
}

// No-context fallback functions (for startup/shutdown paths)

// InfoNoCtx logs an info message without context (uses background context).
func InfoNoCtx(msg string, fields Fields) {
	Info(context.Background(), msg, fields)
}

// WarnNoCtx logs a warning message without context (uses background context).
func WarnNoCtx(msg string, fields Fields) {
	Warn(context.Background(), msg, fields)
}

// ErrorNoCtx logs an error message without context (uses background context).
func ErrorNoCtx(msg string, fields Fields) {
	Error(context.Background(), msg, fields)
}

// Helper functions for creating Fields

// Field creates a single-field Fields map.
func Field(key string, value interface{}) Fields {
	return Fields{key: value}
}

// Fields2 creates a Fields map with two key-value pairs.
func Fields2(k1 string, v1 interface{}, k2 string, v2 interface{}) Fields {
	return Fields{k1: v1, k2: v2}
}

// Fields3 creates a Fields map with three key-value pairs.
func Fields3(k1 string, v1 interface{}, k2 string, v2 interface{}, k3 string, v3 interface{}) Fields {
	return Fields{k1: v1, k2: v2, k3: v3}
}
