package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. JSON output targets aggregated
// environments, the text handler is the local default. Every record carries
// the service name for filtering in shared log sinks.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "periodic"))
}
