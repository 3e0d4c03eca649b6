package metrics

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http"
)

func newResource(cfg config.MetricsConfig) *resource.Resource {
	name := cfg.ServiceName
	if name == "" {
		name = "batchflow"
	}
	return resource.NewSchemaless(attribute.String("service.name", name))
}

func protocolOf(cfg config.MetricsConfig) (string, error) {
	switch p := strings.ToLower(cfg.OTLPProtocol); p {
	case "", protocolGRPC:
		return protocolGRPC, nil
	case protocolHTTP:
		return protocolHTTP, nil
	default:
		return "", exception.NewBatchErrorf("metrics", "unsupported OTLP protocol '%s'", cfg.OTLPProtocol)
	}
}

// NewTracerProvider creates an SDK TracerProvider. Spans are batched to the OTLP collector
// at cfg.OTLPEndpoint; with no endpoint they are recorded but not exported.
func NewTracerProvider(ctx context.Context, cfg config.MetricsConfig) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(newResource(cfg))}
	if cfg.OTLPEndpoint == "" {
		logger.Debugf("Tracer: no OTLP endpoint configured, spans are not exported.")
		return sdktrace.NewTracerProvider(opts...), nil
	}

	protocol, err := protocolOf(cfg)
	if err != nil {
		return nil, err
	}
	var exporter sdktrace.SpanExporter
	switch protocol {
	case protocolHTTP:
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, httpOpts...)
	default:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
	}
	if err != nil {
		return nil, exception.NewBatchError("metrics", "failed to create OTLP trace exporter", err, false, false)
	}
	logger.Infof("Tracer: exporting spans over OTLP/%s to %s.", protocol, cfg.OTLPEndpoint)
	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithBatcher(exporter))...), nil
}

// NewMeterProvider creates an SDK MeterProvider. Metrics are pushed periodically to the
// OTLP collector at cfg.OTLPEndpoint; additional readers (tests use a ManualReader) are
// attached as given.
func NewMeterProvider(ctx context.Context, cfg config.MetricsConfig, readers ...sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(newResource(cfg))}
	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	if cfg.OTLPEndpoint == "" {
		return sdkmetric.NewMeterProvider(opts...), nil
	}

	protocol, err := protocolOf(cfg)
	if err != nil {
		return nil, err
	}
	var exporter sdkmetric.Exporter
	switch protocol {
	case protocolHTTP:
		httpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			httpOpts = append(httpOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, httpOpts...)
	default:
		grpcOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, grpcOpts...)
	}
	if err != nil {
		return nil, exception.NewBatchError("metrics", "failed to create OTLP metric exporter", err, false, false)
	}
	logger.Infof("Metrics: exporting metrics over OTLP/%s to %s.", protocol, cfg.OTLPEndpoint)
	opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	return sdkmetric.NewMeterProvider(opts...), nil
}
