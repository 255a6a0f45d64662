// Package observability provides OpenTelemetry tracing for the sync
// engine. Spans cover a whole run and each table within it, which is
// enough to see where a slow run spends its time.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "clinic-etl"

var (
	initOnce sync.Once
	provider *sdktrace.TracerProvider
)

// Init sets up the global trace provider with a stdout exporter. When
// enabled is false, tracing stays a no-op and Shutdown does nothing.
func Init(serviceName, serviceVersion string, enabled bool) error {
	if !enabled {
		return nil
	}

	var initErr error
	initOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				semconv.ServiceVersionKey.String(serviceVersion),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = fmt.Errorf("failed to create stdout exporter: %w", err)
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(provider)
	})
	return initErr
}

// Tracer returns the engine tracer. Safe to call whether or not Init
// ran; without Init it yields no-op spans.
func Tracer() trace.Tracer {
	if provider == nil {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return otel.Tracer(tracerName)
}

// Shutdown flushes and stops the trace provider
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return provider.Shutdown(ctx)
}
