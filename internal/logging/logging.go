// Package logging centralizes zerolog setup so every component gets a
// consistently-scoped logger with standard field names.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs are written and how verbose they are.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	FilePath   string // optional rotating file sink
	MaxSizeMB  int
	MaxBackups int
}

// DefaultConfig returns sane defaults matching a console-first development
// workflow.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  50,
		MaxBackups: 3,
	}
}

// New builds a root zerolog.Logger from cfg. Writers fan out to stderr and,
// if configured, a rotating log file.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{consoleOrJSON(cfg.Format, os.Stderr)}
	if cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxOr(cfg.MaxSizeMB, 50),
			MaxBackups: maxOr(cfg.MaxBackups, 3),
			Compress:   true,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, nil
}

func consoleOrJSON(format string, w io.Writer) io.Writer {
	if format == "json" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Component returns a child logger scoped to a named component, the
// convention every package in this repo uses to identify its log lines.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// WithComparison returns a child logger carrying the comparisonId and
// pairKey fields, so an entire comparison lifecycle can be grepped by id.
func WithComparison(logger zerolog.Logger, comparisonID, pairKey string) zerolog.Logger {
	return logger.With().
		Str("comparison_id", comparisonID).
		Str("pair_key", pairKey).
		Logger()
}
