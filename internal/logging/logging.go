// Package logging configures the process-wide slog logger. One logger per
// component is created with New(), all sharing the handler installed by
// Configure() at process start.
package logging

import (
	"log/slog"
	"os"
)

// Configure installs a JSON handler in "prod"/"staging" and a human-readable
// text handler otherwise, matching the teacher's env-driven server setup.
func Configure(env string, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch env {
	case "prod", "staging":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// New returns a logger scoped to a component name, e.g. New("dispatch").
func New(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
