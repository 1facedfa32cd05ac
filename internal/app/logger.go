package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production always emits JSON with
// source locations; development defaults to readable text at debug level.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelDebug
	if cfg.IsProduction() {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.IsProduction(),
	}

	var handler slog.Handler
	if cfg.IsProduction() || cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", "sentinel"))
	slog.SetDefault(logger)
	return logger
}
