// Package observability provides OpenTelemetry tracing and Prometheus-style
// metrics for the linkage service.
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
)

// TracerName is the instrumentation scope for all linkage spans.
const TracerName = "github.com/efebarandurmaz/linkage"

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	// Tracing is a no-op when empty.
	OTLPEndpoint string

	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64
}

// DefaultTracingConfig returns the default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "linkage",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the SDK tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global tracer provider exporting over OTLP gRPC.
// Without an endpoint it returns a provider backed by the global no-op tracer.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
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

// Shutdown flushes and stops the provider.
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

// Span kinds recorded under linkage.span.kind.
const (
	SpanKindPredict = "predict"
	SpanKindBatch   = "batch"
	SpanKindEncode  = "encode"
	SpanKindExplain = "explain"
	SpanKindLoad    = "model_load"
)

func start(ctx context.Context, name, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("linkage.span.kind", kind))
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// StartPredictSpan starts a span for a single pair prediction.
func StartPredictSpan(ctx context.Context, fieldCount int) (context.Context, trace.Span) {
	return start(ctx, "linkage.predict", SpanKindPredict,
		attribute.Int("linkage.field_count", fieldCount))
}

// StartBatchSpan starts a span for a batch run.
func StartBatchSpan(ctx context.Context, sizeA, sizeB int) (context.Context, trace.Span) {
	return start(ctx, "linkage.batch", SpanKindBatch,
		attribute.Int("linkage.dataset_a.size", sizeA),
		attribute.Int("linkage.dataset_b.size", sizeB))
}

// RecordBatchResult annotates a batch span with its outcome.
func RecordBatchResult(span trace.Span, comparisons, matches int, truncated bool) {
	span.SetAttributes(
		attribute.Int("linkage.comparisons", comparisons),
		attribute.Int("linkage.matches", matches),
		attribute.Bool("linkage.truncated", truncated),
	)
}

// StartEncodeSpan starts a span for one backend encode call.
func StartEncodeSpan(ctx context.Context, backend string, texts int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "embedding.encode",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("linkage.span.kind", SpanKindEncode),
			attribute.String("embedding.backend", backend),
			attribute.Int("embedding.texts", texts),
		),
	)
	return ctx, span
}

// StartLoadSpan starts a span for model loading.
func StartLoadSpan(ctx context.Context, backend, model string) (context.Context, trace.Span) {
	return start(ctx, "embedding.load", SpanKindLoad,
		attribute.String("embedding.backend", backend),
		attribute.String("embedding.model", model))
}

// StartExplainSpan starts a span for explanation generation.
func StartExplainSpan(ctx context.Context, method string, fields int) (context.Context, trace.Span) {
	return start(ctx, "explain."+method, SpanKindExplain,
		attribute.String("explain.method", method),
		attribute.Int("explain.fields", fields))
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
