// Package trace bootstraps OpenTelemetry for the venue layer. Only
// gateway round trips get spans; the rest of the engine is synchronous
// and its story lives in the logs. Tracing is opt-in: set
// TRADER_TRACING=true to export pretty-printed spans to stdout.
package trace

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

var provider *sdktrace.TracerProvider

// Init starts the exporter when TRADER_TRACING=true. Without it every
// Op is a passthrough.
func Init() error {
	if os.Getenv("TRADER_TRACING") != "true" {
		return nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName("proptrader")),
	)
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// Shutdown flushes any batched spans. Safe to call when tracing never
// started.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// Op opens a span around one venue round trip. The returned func ends
// the span; callers defer it.
func Op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	if provider == nil {
		return ctx, func() {}
	}
	ctx, span := provider.Tracer("proptrader/gateway").Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// Symbol tags a span with the instrument the call touches.
func Symbol(s string) attribute.KeyValue {
	return attribute.String("trader.symbol", s)
}
