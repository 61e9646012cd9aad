// Package otelhelper provides distributed tracing for workflow editing and runs.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	WorkflowIDKey      = "crmflow.workflow.id"
	WorkflowNameKey    = "crmflow.workflow.name"
	WorkflowEnabledKey = "crmflow.workflow.enabled"
	RunIDKey           = "crmflow.run.id"
	RunStatusKey       = "crmflow.run.status"
	SessionIDKey       = "crmflow.session.id"
	NodeCountKey       = "crmflow.graph.nodes"
	EdgeCountKey       = "crmflow.graph.edges"
	EventIDKey         = "crmflow.event.id"
	EventTypeKey       = "crmflow.event.type"
	ErrorTypeKey       = "crmflow.error.type"
)

// NewTracer installs an OTLP/HTTP exporting tracer provider as the global provider. The returned
// shutdown function flushes pending spans.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(serviceName), provider.Shutdown, nil
}

// Tracer returns the given tracer, or one from the global provider when nil.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer(tracer trace.Tracer, name string) trace.Tracer {
	if tracer != nil {
		return tracer
	}

	return otel.Tracer(name)
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
