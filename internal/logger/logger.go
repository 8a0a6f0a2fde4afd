// internal/logger/logger.go
package logger

import (
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// New builds the service root logger. LOG_FORMAT=console switches to the
// human-readable writer for local development; the default is JSON lines.
func New(serviceName string) zerolog.Logger {
	var logger zerolog.Logger
	if os.Getenv("LOG_FORMAT") == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithRun derives a child logger tagged with a fresh run id, returning
// both. Every matcher invocation and dispatcher batch gets its own.
func WithRun(parent zerolog.Logger) (zerolog.Logger, string) {
	runID := uuid.NewString()
	return parent.With().Str("run_id", runID).Logger(), runID
}
