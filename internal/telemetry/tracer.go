// Package telemetry sets up the OpenTelemetry tracer provider for the
// SIP2 bridge and provides span helpers for SIP2 operations, frame
// exchanges, and circuit-breaker transitions. The manager and client
// packages do not call these helpers; InitTracer is the only part
// wired into the gateway.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/GigaFlair-LLC/gigaflair-sip2-bridge"

// InitTracer initializes the OpenTelemetry tracer provider, exporting
// to an OTLP collector when OTEL_EXPORTER_OTLP_ENDPOINT is set and
// otherwise pretty-printing spans to stdout.
func InitTracer(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}

// Tracer returns the package-scoped tracer used for SIP2 operation
// and frame-exchange spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartOperation opens a span for one SIP2 operation on a branch,
// tagged with the branch id and command name.
func StartOperation(ctx context.Context, branchID, command string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "sip2.operation",
		trace.WithAttributes(
			attribute.String("branch.id", branchID),
			attribute.String("sip2.command", command),
		),
	)
}

// StartFrame opens a child span for one request/response frame
// exchange, tagged with its sequence number.
func StartFrame(ctx context.Context, sequence int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "sip2.frame",
		trace.WithAttributes(
			attribute.Int("sip2.sequence", sequence),
		),
	)
}

// RecordBreakerTransition attaches a span event describing a
// circuit-breaker state change to the current span in ctx, if any.
func RecordBreakerTransition(ctx context.Context, branchID, from, to string, failures int) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("breaker.transition", trace.WithAttributes(
		attribute.String("branch.id", branchID),
		attribute.String("breaker.from", from),
		attribute.String("breaker.to", to),
		attribute.Int("breaker.failures", failures),
	))
}
