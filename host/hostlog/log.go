// Package hostlog configures structured logging for the host tool.
package hostlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Host-side component identifiers.
const (
	ComponentSerial     Component = "serial"
	ComponentTransport  Component = "transport"
	ComponentMCU        Component = "mcu"
	ComponentComparator Component = "comparator"
	ComponentStore      Component = "store"
	ComponentCLI        Component = "cli"
)

// Format specifies the output format for logging.
type Format int

// Log format options.
const (
	FormatText Format = iota
	FormatJSON
)

var (
	defaultLogger *slog.Logger
	logLevel      = new(slog.LevelVar)
	logOutput     io.Writer = os.Stderr
	logMutex      sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelInfo)
	defaultLogger = slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: logLevel}))
}

// ParseLevel maps a config/flag level name onto a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// ParseFormat maps "text" or "json" onto a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("unknown log format %q", name)
}

// SetLevel sets the minimum level for all host logging.
func SetLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// Level returns the current minimum level.
func Level() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// Setup rebuilds the default logger writing to w in the given format.
func Setup(w io.Writer, format Format) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logOutput = w
	opts := &slog.HandlerOptions{Level: logLevel}
	switch format {
	case FormatJSON:
		defaultLogger = slog.New(slog.NewJSONHandler(w, opts))
	default:
		defaultLogger = slog.New(slog.NewTextHandler(w, opts))
	}
}

// Logger returns the default logger.
func Logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return defaultLogger
}

// For returns the default logger tagged with a component.
func For(component Component) *slog.Logger {
	return Logger().With("component", string(component))
}

// Debug logs a debug message with the given component.
func Debug(component Component, msg string, args ...any) {
	Logger().Debug(msg, append([]any{"component", string(component)}, args...)...)
}

// Info logs an info message with the given component.
func Info(component Component, msg string, args ...any) {
	Logger().Info(msg, append([]any{"component", string(component)}, args...)...)
}

// Warn logs a warning with the given component.
func Warn(component Component, msg string, args ...any) {
	Logger().Warn(msg, append([]any{"component", string(component)}, args...)...)
}

// Error logs an error with the given component.
func Error(component Component, msg string, args ...any) {
	Logger().Error(msg, append([]any{"component", string(component)}, args...)...)
}
