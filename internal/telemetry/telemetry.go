// Package telemetry provides the structured logger shared across tabdb.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config selects the logger's verbosity and output encoding.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

var (
	once   sync.Once
	logger *slog.Logger
)

// Init installs the process-wide logger. Safe to call once at startup;
// later calls are ignored so library code can call Get without racing
// an embedding host's own Init.
func Init(cfg Config) {
	once.Do(func() {
		logger = build(cfg)
	})
}

func build(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Get returns the process-wide logger, defaulting to INFO/JSON if Init
// was never called.
func Get() *slog.Logger {
	once.Do(func() {
		logger = build(Config{Level: "info", Format: "json"})
	})
	return logger
}

func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
