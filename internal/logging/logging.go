package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps the LOG_LEVEL vocabulary onto zerolog levels.
// Anything unrecognised falls back to error, the production default.
func ParseLevel(l string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "trace", "verbose":
		return zerolog.TraceLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Init configures the process-wide logger. An empty level reads LOG_LEVEL.
func Init(level string) zerolog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()

	return log.Logger
}

// For returns a child of the process logger tagged with module.
func For(module string) zerolog.Logger {
	return log.Logger.With().Str("module", module).Logger()
}
