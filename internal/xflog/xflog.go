// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package xflog wires log/slog to a charmbracelet/log handler, giving
// every component the structured, leveled, component-tagged logger
// the teacher's own call sites expect from its internal/logging
// package (e.g. logging.WithComponent("scanner")) — only the package
// body itself didn't survive retrieval, so this is a reconstruction
// from the call pattern plus charmbracelet/log's own idiomatic slog
// bridge (a log.NewWithOptions(...) logger used as the slog.Handler).
package xflog

import (
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
)

// New builds the daemon's root logger: timestamped, leveled,
// charmbracelet/log-rendered output on stderr.
func New(level slog.Level) *slog.Logger {
	charm := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           toCharmLevel(level),
	})
	return slog.New(charm)
}

// WithComponent returns a child logger tagged with a "component"
// attribute, the idiom the daemon's subsystems use to identify
// themselves in shared log output (cmd/xdpfwd tags its sandbox,
// metrics and ctlserver loggers this way).
func WithComponent(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}

func toCharmLevel(level slog.Level) log.Level {
	switch {
	case level <= slog.LevelDebug:
		return log.DebugLevel
	case level <= slog.LevelInfo:
		return log.InfoLevel
	case level <= slog.LevelWarn:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}
