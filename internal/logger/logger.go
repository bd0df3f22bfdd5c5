package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where stackctl writes its own log.
// The console always receives human-readable records; File adds a rotated
// JSON copy. Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	NoColor    bool   `mapstructure:"no_color"`
}

// ParseLevel maps debug|info|warn|error to a slog level. Unknown values are an error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds the stackctl logger. The returned closer releases the log file and
// must be called before exit; it is a no-op when no file is configured.
func New(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var consoleHandler slog.Handler
	if cfg.NoColor {
		consoleHandler = slog.NewTextHandler(console, opts)
	} else {
		consoleHandler = NewColorTextHandler(console, opts)
	}
	if cfg.File == "" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	w := cfg.RotatingWriter(cfg.File)
	h := NewFanout(consoleHandler, slog.NewJSONHandler(w, opts))
	return slog.New(h), w, nil
}

// RotatingWriter returns a lumberjack writer for path using the configured
// rotation limits, falling back to the package defaults.
func (c Config) RotatingWriter(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// OpenAppend opens path for appending, creating it and its parent directory.
// Owned processes write to these files directly, so they must be real files
// and not rotating writers that live inside stackctl.
func OpenAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// #nosec G304
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
