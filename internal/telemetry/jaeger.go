package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: JAEGER INTEGRATION FOR DISTRIBUTED TRACING

  collabd → OpenTelemetry SDK → Jaeger Exporter → Jaeger Collector → Jaeger UI

Spans worth looking at in the UI:
- Connection.Join / Connection.Sync: one per protocol request
- SessionStore.Apply: lock wait + mutation, with op kind and version
- Storage.SaveText: the write-through save nested under Apply

Without an endpoint nothing is exported and the global provider stays a
no-op, so every span helper in internal/middleware remains free to call.
*/

// Version is reported as service.version on every span.
const Version = "1.0.0"

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

// InitJaeger installs a tracer provider exporting to jaegerEndpoint.
// An empty endpoint disables export and returns a no-op shutdown.
func InitJaeger(serviceName, jaegerEndpoint string) (ShutdownFunc, error) {
	if jaegerEndpoint == "" {
		log.Println("  Tracing export disabled (JAEGER_ENDPOINT not set)")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	// Not merged with resource.Default(): the SDK's default schema URL may
	// differ from this semconv version and Merge rejects that.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(Version),
	)

	// Every edit produces an Apply span; sample a fraction of root traces
	// once traffic grows (sdktrace.TraceIDRatioBased).
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s", jaegerEndpoint)
	return tp.Shutdown, nil
}
