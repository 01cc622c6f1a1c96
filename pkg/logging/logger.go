// Package logging builds the zerolog logger every component in this
// module derives its scoped logger from, matching the pattern
// data-ingestion's pkg/logging/logger.go and the rest of the corpus's
// services use.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger configured from level/format and stamped with the
// service's name and version (the signature cmd/subscriptiond's main.go
// calls at startup).
func New(level, format, serviceName, serviceVersion string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var logger zerolog.Logger
	if format == "console" || format == "pretty" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return logger.With().
		Str("service", serviceName).
		Str("version", serviceVersion).
		Logger()
}

// WithComponent scopes logger to a named component, the convention every
// package in this module uses for its own logger field.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
