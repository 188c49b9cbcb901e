// Package logging configures structured logging for TopicDeck using log/slog.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// serviceName tags every record so TopicDeck output is filterable in a
// shared log pipeline.
const serviceName = "topicdeck"

// Setup configures the default slog logger with the specified level and
// format and attaches the service attribute to every record.
// Supported levels: "debug", "info", "warn", "error" (default: "info").
// Supported formats: "text", "json" (default: "text").
func Setup(level, format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", serviceName))
}

// parseLevel maps a configuration string onto a slog level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Component returns a logger scoped to one subsystem. Records carry a
// component attribute alongside the service attribute from Setup.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
