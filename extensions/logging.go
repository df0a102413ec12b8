package extensions

import (
	"context"
	"log/slog"
	"time"

	atom "github.com/pumped-fn/pumped-atom"
)

// LoggingExtension logs register operations and publications
type LoggingExtension struct {
	atom.BaseExtension
	logger *slog.Logger
}

// NewLoggingExtension creates a new logging extension.
// A nil logger falls back to slog.Default().
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{
		BaseExtension: atom.NewBaseExtension("logging"),
		logger:        logger,
	}
}

func (e *LoggingExtension) Wrap(ctx context.Context, next func() (any, error), op *atom.Operation) (any, error) {
	start := time.Now()
	result, err := next()

	attrs := []any{
		"register", op.Register.Name(),
		"operation", string(op.Kind),
		"attempts", op.Attempt,
		"duration", time.Since(start),
	}
	if err != nil {
		e.logger.WarnContext(ctx, "register operation failed", append(attrs, "error", err)...)
	} else {
		e.logger.DebugContext(ctx, "register operation completed", attrs...)
	}

	return result, err
}

func (e *LoggingExtension) OnPublish(ctx context.Context, ev atom.PublishEvent) {
	e.logger.DebugContext(ctx, "snapshot published",
		"register", ev.Register.Name(),
		"version", ev.Version,
		"previous_version", ev.PreviousVersion,
	)
}

func (e *LoggingExtension) OnConflict(ctx context.Context, op *atom.Operation) {
	e.logger.DebugContext(ctx, "compare-and-swap lost race",
		"register", op.Register.Name(),
		"attempt", op.Attempt,
	)
}
