package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default logger. level comes from --log-level; when empty,
// LOG_LEVEL is consulted, and production only shows errors.
func Init(level string) {
	InitTo(os.Stderr, level)
}

// InitTo is Init with an explicit destination.
func InitTo(w io.Writer, level string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(level),
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a level name to a slog level. Unknown names mean error.
func ParseLevel(l string) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
