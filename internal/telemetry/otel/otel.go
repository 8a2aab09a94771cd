// Package otel installs the process-wide OpenTelemetry tracer provider and
// offers StartSpan for callers; the orchestrator does not open spans. Spans are
// exported over OTLP/HTTP when an endpoint is configured, and discarded
// otherwise so the instrumentation is always safe to call.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is shared by every package that emits orchestrator spans.
var Tracer trace.Tracer = otel.Tracer("github.com/example/carton/orchestrator")

// Config controls Setup.
type Config struct {
	// OTLPEndpoint is the collector host:port for OTLP/HTTP export. Empty
	// disables export and leaves a no-op tracer provider installed.
	OTLPEndpoint string
	ServiceName  string
}

// Setup installs a TracerProvider as the global default and returns a
// shutdown function the caller must invoke before process exit so buffered
// spans are flushed.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.OTLPEndpoint == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry/otel: creating otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName(cfg))),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry/otel: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func serviceName(cfg Config) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "carton"
}

// StartSpan begins a span named for an orchestrator state transition
// (e.g. "Load", "Pack", "Infer") and returns the derived context plus an
// end function that records err (if non-nil) before closing the span.
func StartSpan(ctx context.Context, name string) (context.Context, func(err error)) {
	ctx, span := Tracer.Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
