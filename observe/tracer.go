package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing for lazy activations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartActivation starts a span covering one item activation.
	StartActivation(ctx context.Context, itemID, priority string) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartActivation(ctx context.Context, itemID, priority string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "lazy.activate",
		trace.WithAttributes(
			attribute.String("lazy.item.id", itemID),
			attribute.String("lazy.item.priority", priority),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type nopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer that produces no-op spans.
func NopTracer() Tracer {
	return &nopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *nopTracer) StartActivation(ctx context.Context, itemID, priority string) (context.Context, trace.Span) {
	return t.noop.Start(ctx, "lazy.activate")
}

func (t *nopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
