// Package logging installs a process-wide structured logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Level mirrors WGPROXY_LOGLEVEL: 0=off, 1=error, 2=warn, 3=info, 4=debug.
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel validates a WGPROXY_LOGLEVEL value.
func ParseLevel(n int) (Level, error) {
	if n < int(LevelOff) || n > int(LevelDebug) {
		return 0, fmt.Errorf("invalid log level %d: want 0..4", n)
	}
	return Level(n), nil
}

// Configure installs a process-wide slog default logger at the given level.
//
// Level off is modeled as a slog level above Error so no record is ever
// enabled; there is no slog.LevelOff.
func Configure(level Level) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(level)})
	slog.SetDefault(slog.New(h))
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelOff:
		return slog.LevelError + 1
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
