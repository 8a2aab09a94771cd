// Package logging installs the process-wide slog.Logger used by every
// carton package. Production builds get a JSON handler; interactive/verbose
// runs and tests get a text handler.
package logging

import (
	"log/slog"
	"os"
)

// Options controls the handler installed by Setup.
type Options struct {
	// Verbose selects the human-readable text handler instead of JSON.
	Verbose bool
	// Level is the minimum level emitted.
	Level slog.Level
	// Output defaults to os.Stderr when nil.
	Output *os.File
}

// Setup builds a slog.Logger from opts and installs it as the process
// default via slog.SetDefault, returning the same logger for callers that
// want to hold a local reference (e.g. to attach request-scoped fields with
// With).
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.Verbose {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithCorrelation returns a logger with the IPC/orchestrator correlation id
// attached, so every log line for one Load/Infer/Pack call can be joined.
func WithCorrelation(l *slog.Logger, correlationID uint64) *slog.Logger {
	return l.With(slog.Uint64("correlation_id", correlationID))
}

// WithModel returns a logger with a model identity attached.
func WithModel(l *slog.Logger, modelID string) *slog.Logger {
	return l.With(slog.String("model_id", modelID))
}

// WithRunner returns a logger with a runner descriptor attached.
func WithRunner(l *slog.Logger, runnerDescriptor string) *slog.Logger {
	return l.With(slog.String("runner", runnerDescriptor))
}
