// Package otel initialises the OpenTelemetry tracer provider used for slow
// request spans.
package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/mrzor/blkiolat/internal/config"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const exportTimeout = 10 * time.Second

// exporterOptions maps the endpoint configuration onto OTLP/HTTP options.
// The HTTP client honors HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func exporterOptions(cfg *config.OTELConfig) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithTimeout(exportTimeout)}

	endpoint, isURL := cfg.Endpoint()
	if isURL {
		return append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	return append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
}

// InitProvider builds a batching tracer provider exporting over OTLP/HTTP.
// Export failures surface later through the OTel error handler, not here.
func InitProvider(ctx context.Context, cfg *config.OTELConfig, serviceVersion string, logger log.Logger) (*sdktrace.TracerProvider, error) {
	endpoint, _ := cfg.Endpoint()
	level.Info(logger).Log(
		"msg", "initialising OTLP trace exporter",
		"service", cfg.ServiceName,
		"endpoint", endpoint,
		"resource_attributes", cfg.ResourceAttributes,
	)

	exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithAttributes(cfg.ResourceAttributeList()...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// ShutdownProvider flushes pending spans and stops the provider.
func ShutdownProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down tracer provider: %w", err)
	}
	return nil
}
