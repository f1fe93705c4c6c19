// Package logging configures colored structured logging for both the
// finishline authority and the viewer CLI.
//
// Usage:
//
//	logging.Setup()                                         // stderr, level from LOG_LEVEL env
//	slog.SetDefault(logging.New(w, logging.ParseLevel(s)))  // own writer and level
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures colored logging at the level specified by LOG_LEVEL
// (default: INFO).
func Setup() {
	slog.SetDefault(New(os.Stderr, LevelFromEnv()))
}

// New builds a tint-backed logger writing to w. The viewer uses this to keep
// log lines off the terminal it redraws.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  level == slog.LevelDebug,
	}))
}

// LevelFromEnv reads LOG_LEVEL.
func LevelFromEnv() slog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
