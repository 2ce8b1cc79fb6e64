// Package tracing configures OpenTelemetry trace export over OTLP.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nextlevelbuilder/betclaw/internal/config"
)

const tracerName = "github.com/nextlevelbuilder/betclaw"

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer provider. When telemetry is disabled a
// no-op provider is installed and the returned shutdown does nothing.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string) (ShutdownFunc, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "betclaw"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	slog.Info("otel tracing enabled", "endpoint", cfg.Endpoint, "protocol", protocol(cfg))
	return tp.Shutdown, nil
}

func protocol(cfg config.TelemetryConfig) string {
	if strings.EqualFold(cfg.Protocol, "http") {
		return "http"
	}
	return "grpc"
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}

	if protocol(cfg) == "http" {
		endpoint := cfg.Endpoint
		opts := []otlptracehttp.Option{}
		if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp http exporter: %w", err)
		}
		return exp, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp grpc exporter: %w", err)
	}
	return exp, nil
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Conversation returns the span attributes identifying a conversation.
func Conversation(channel, chatID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("betclaw.channel", channel),
		attribute.String("betclaw.chat_id", chatID),
	}
}
