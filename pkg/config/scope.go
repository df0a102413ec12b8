package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	atom "github.com/pumped-fn/pumped-atom"
	"github.com/pumped-fn/pumped-atom/extensions"
	"github.com/pumped-fn/pumped-atom/pkg/journal"
)

var journalTag = atom.NewTag[*journal.Journal]("config.journal")

// Deps are the process-level collaborators a scope is wired to.
// Nil fields fall back to library defaults.
type Deps struct {
	Logger         *slog.Logger
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
}

// NewScope builds a scope with the extensions selected by cfg. When the
// journal is enabled it is opened here and closed by scope.Dispose.
func NewScope(cfg Config, deps Deps) (*atom.Scope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.Observability.Level(),
		}))
	}

	scope := atom.NewScope()
	obs := cfg.Observability

	var exts []atom.Extension
	if obs.TracingEnabled {
		exts = append(exts, extensions.NewTracingExtension(deps.TracerProvider))
	}
	if obs.MetricsEnabled {
		exts = append(exts, extensions.NewMetricsExtension(deps.Registerer, obs.Namespace))
	}
	if obs.LoggingEnabled {
		exts = append(exts, extensions.NewLoggingExtension(logger))
	}
	if obs.DebugEnabled {
		exts = append(exts, extensions.NewContentionDebugExtension(logger.Handler()))
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		scope.OnCleanup(j.Close)
		journalTag.SetOnScope(scope, j)

		exts = append(exts, journal.NewExtension(j,
			journal.WithCodec(cfg.Journal.PayloadCodec()),
			journal.WithLogger(logger),
			journal.WithCompactEvery(cfg.Journal.CompactEvery),
		))
	}

	for _, ext := range exts {
		if err := scope.UseExtension(ext); err != nil {
			_ = scope.Dispose()
			return nil, err
		}
	}

	logger.Debug("scope configured",
		"extensions", len(exts),
		"journal", cfg.Journal.Enabled,
		"max_retries", cfg.Update.MaxRetries,
	)
	return scope, nil
}

// JournalOf returns the journal opened by NewScope, if any
func JournalOf(scope *atom.Scope) atom.Option[*journal.Journal] {
	j, ok := journalTag.GetFromScope(scope)
	return atom.FromOk(j, ok)
}
