// Package logger switches a service to structured JSON logging via Go
// 1.21's log/slog. Installing the handler as the slog default also
// bridges the standard log package, so every log.Printf line in the
// pipeline comes out as a JSON record under log aggregation.
package logger

import (
	"log/slog"
	"os"
)

// Init creates a JSON logger tagged with the service name and installs
// it as the process default.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)

	return logger
}
