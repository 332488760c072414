package main

import (
	"log/slog"
	"os"

	"github.com/MrWong99/vocalflow/internal/config"
)

// newLogger returns a text logger whose level can be changed later through
// lvl, so that config reloads take effect without a restart.
func newLogger(lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
