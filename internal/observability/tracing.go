// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for codegraph runs.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

const (
	// TracerName is the instrumentation name of the codegraph tracer.
	TracerName = "github.com/efebarandurmaz/codegraph"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "codegraph")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "codegraph",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultTracingConfig().ServiceName
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds recorded on codegraph spans.
const (
	SpanKindRun        = "run"
	SpanKindFile       = "file"
	SpanKindProjection = "projection"
)

// StartRunSpan starts the root span of a pipeline run.
func StartRunSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "codegraph.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("codegraph.span.kind", SpanKindRun),
			attribute.String("codegraph.root", root),
		),
	)
}

// RecordRunResult records the outcome of a run on its span.
func RecordRunResult(span trace.Span, discovered, processed, skipped int, counts facts.Counts) {
	span.SetAttributes(
		attribute.Int("run.discovered", discovered),
		attribute.Int("run.processed", processed),
		attribute.Int("run.skipped", skipped),
		attribute.Int("facts.functions", counts.Functions),
		attribute.Int("facts.classes", counts.Classes),
		attribute.Int("facts.imports", counts.Imports),
		attribute.Int("facts.variables", counts.Variables),
	)
}

// StartFileSpan starts a span covering the read and extraction of one file.
func StartFileSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "codegraph.file",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("codegraph.span.kind", SpanKindFile),
			attribute.String("file.path", path),
		),
	)
}

// StartProjectionSpan starts a span for writing the facts of a number of
// files to the graph.
func StartProjectionSpan(ctx context.Context, files int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "codegraph.project",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("codegraph.span.kind", SpanKindProjection),
			attribute.Int("graph.files", files),
		),
	)
}

// RecordProjectionResult records planned, applied and failed operation counts.
func RecordProjectionResult(span trace.Span, planned, applied, failed int, canceled bool) {
	span.SetAttributes(
		attribute.Int("graph.planned", planned),
		attribute.Int("graph.applied", applied),
		attribute.Int("graph.failed", failed),
		attribute.Bool("graph.canceled", canceled),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d operations failed", failed))
	}
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
