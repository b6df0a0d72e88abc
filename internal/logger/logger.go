// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the global logger instance
var Logger *slog.Logger

// Level is the current log level
var Level = new(slog.LevelVar)

func init() {
	// Initialize with a default logger to prevent panics
	Init(slog.LevelWarn, os.Stderr)
}

// Init initializes the logger with the specified level. All log output goes
// to stderr so that stdout carries only interpreter results.
func Init(level slog.Level, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: Level,
	})

	Logger = slog.New(handler)
	Level.Set(level)
}

// SetLevel changes the log level programmatically
func SetLevel(level slog.Level) {
	Level.Set(level)
}

// ParseLevel maps a config string to a slog level, defaulting to warn.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug", "trace":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
