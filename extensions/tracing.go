package extensions

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	atom "github.com/pumped-fn/pumped-atom"
)

const tracerName = "github.com/pumped-fn/pumped-atom"

// TracingExtension wraps register operations in OpenTelemetry spans.
// Conflicts and publications are recorded as span events.
type TracingExtension struct {
	atom.BaseExtension
	tracer trace.Tracer
	active sync.Map // *atom.Operation -> trace.Span
}

// NewTracingExtension creates a tracing extension. A nil provider uses
// the global tracer provider.
func NewTracingExtension(provider trace.TracerProvider) *TracingExtension {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingExtension{
		BaseExtension: atom.NewBaseExtension("tracing"),
		tracer:        provider.Tracer(tracerName),
	}
}

func (e *TracingExtension) Order() int {
	return 0
}

func (e *TracingExtension) Wrap(ctx context.Context, next func() (any, error), op *atom.Operation) (any, error) {
	_, span := e.tracer.Start(ctx, "atom."+string(op.Kind),
		trace.WithAttributes(
			attribute.String("atom.register.name", op.Register.Name()),
			attribute.String("atom.register.id", op.Register.ID()),
		),
	)
	e.active.Store(op, span)
	defer func() {
		e.active.Delete(op)
		span.End()
	}()

	result, err := next()

	span.SetAttributes(
		attribute.Int("atom.attempts", op.Attempt),
		attribute.Int64("atom.version", int64(op.Register.Version())),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return result, err
}

func (e *TracingExtension) spanFor(ctx context.Context, op *atom.Operation) trace.Span {
	if span, ok := e.active.Load(op); ok {
		return span.(trace.Span)
	}
	return trace.SpanFromContext(ctx)
}

func (e *TracingExtension) OnPublish(ctx context.Context, ev atom.PublishEvent) {
	e.spanFor(ctx, ev.Operation).AddEvent("atom.publish", trace.WithAttributes(
		attribute.Int64("atom.version", int64(ev.Version)),
	))
}

func (e *TracingExtension) OnConflict(ctx context.Context, op *atom.Operation) {
	e.spanFor(ctx, op).AddEvent("atom.conflict", trace.WithAttributes(
		attribute.Int("atom.attempt", op.Attempt),
	))
}
