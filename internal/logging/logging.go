// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lhdbsbz/adarelay/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the default slog logger described by cfg and returns a closer
// for the rotating log file, if one was opened.
func Setup(cfg config.LogConfig) io.Closer {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	var dirErr error
	if cfg.File != "" {
		dirErr = os.MkdirAll(filepath.Dir(cfg.File), 0755)
	}
	if cfg.File != "" && dirErr == nil {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}

	slog.SetDefault(slog.New(NewHandler(out, cfg)))
	if dirErr != nil {
		slog.Warn("log file disabled, logging to stdout only", "file", cfg.File, "error", dirErr)
	}
	return closer
}

// NewHandler builds a text or JSON handler at the configured level.
func NewHandler(w io.Writer, cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
