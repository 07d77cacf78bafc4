package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs a JSON logger on stdout as the slog default.
func Init(instanceID, level string) *slog.Logger {
	logger := New(os.Stdout, instanceID, level)
	slog.SetDefault(logger)
	return logger
}

func New(w io.Writer, instanceID, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redact,
	})
	return slog.New(handler).With("instance_id", instanceID)
}

// ParseLevel falls back to info for empty or unknown names.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}
