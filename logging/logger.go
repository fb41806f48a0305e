// Package logging builds the structured slog.Logger every component logs
// through, grounded on the Hola-to-network_logistics_problem example's
// pkg/logger — JSON by default, text for local dev, optional rotating file
// output via lumberjack. Replaces the teacher's bare log.Printf call sites.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cloudplay/fleet-control-plane/config"
)

// New builds a *slog.Logger from the §E log section.
func New(cfg config.LogConfig) *slog.Logger {
	var out io.Writer
	switch cfg.Output {
	case "file":
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
