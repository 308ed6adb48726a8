// Package log constructs the process-wide structured logger.
package log

import (
	"io"
	"log/slog"
)

// New returns a JSON slog.Logger writing to w. With debug enabled the
// level drops to Debug, otherwise Info.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler)
}
