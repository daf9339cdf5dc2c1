package app

import (
	"log/slog"
	"time"
)

// parseDurationDefault parses value as a duration, falling back to def and
// warning through logger when value is empty or malformed. Mirrors the
// inline time.ParseDuration-with-fallback idiom used throughout config
// wiring, collected into one place since this composition root has many
// string-duration fields to resolve.
func parseDurationDefault(logger *slog.Logger, field, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("invalid duration, using default", "field", field, "value", value, "default", def.String())
		return def
	}
	return d
}
