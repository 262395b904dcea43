// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel accepts debug, info, warn/warning and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New returns a JSON logger writing to console. When file is non-nil the
// JSON records go to file and the console gets a human-readable text copy.
func New(level slog.Level, console, file io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if file == nil {
		return slog.New(slog.NewJSONHandler(console, opts))
	}
	return slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(file, opts),
		slog.NewTextHandler(console, opts),
	))
}
