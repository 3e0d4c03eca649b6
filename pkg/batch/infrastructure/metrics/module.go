package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// Exporter names accepted in batch.metrics.exporters.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTel       = "otel"
)

// NewMetricRecorder builds the recorder selected by the configuration: one recorder per
// exporter behind a MultiRecorder, optionally wrapped in an AsyncMetricRecorder.
// With no exporter the no-op recorder is returned.
func NewMetricRecorder(lc fx.Lifecycle, cfg *config.Config) (metrics.MetricRecorder, error) {
	mc := cfg.Batch.Metrics
	var recorders []metrics.MetricRecorder
	for _, name := range mc.Exporters {
		switch name {
		case ExporterPrometheus:
			rec := NewPrometheusRecorder()
			if mc.ListenAddress != "" {
				servePrometheus(lc, mc.ListenAddress, rec)
			}
			recorders = append(recorders, rec)
		case ExporterOTel:
			provider, err := NewMeterProvider(context.Background(), mc)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{OnStop: provider.Shutdown})
			rec, err := NewOpenTelemetryRecorder(provider)
			if err != nil {
				return nil, err
			}
			recorders = append(recorders, rec)
		default:
			return nil, exception.NewBatchErrorf("metrics", "unknown metrics exporter '%s'", name)
		}
	}
	if len(recorders) == 0 {
		logger.Debugf("Metrics: no exporter configured, using the no-op recorder.")
		return metrics.NewNoOpMetricRecorder(), nil
	}

	var recorder metrics.MetricRecorder = NewMultiRecorder(recorders...)
	if mc.AsyncBufferSize > 0 {
		async := NewAsyncMetricRecorder(mc.AsyncBufferSize, recorder)
		// Appended after the provider hooks, so it drains before they shut down.
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		}})
		recorder = async
	}
	logger.Infof("Metrics: recording to %v.", mc.Exporters)
	return recorder, nil
}

// NewTracer returns the OpenTelemetry tracer when tracing is enabled and the no-op tracer otherwise.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	mc := cfg.Batch.Metrics
	if !mc.Tracing {
		return metrics.NewNoOpTracer(), nil
	}
	provider, err := NewTracerProvider(context.Background(), mc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: provider.Shutdown})
	return NewOpenTelemetryTracer(provider), nil
}

// servePrometheus exposes the recorder's registry on addr under /metrics for the
// lifetime of the application.
func servePrometheus(lc fx.Lifecycle, addr string, rec *PrometheusRecorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rec.GetRegistry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return exception.NewBatchError("metrics", "failed to listen on "+addr, err, false, false)
			}
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics: Prometheus endpoint stopped: %v", err)
				}
			}()
			logger.Infof("Metrics: Prometheus endpoint listening on %s/metrics.", addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

// Module provides the configured MetricRecorder and Tracer. It replaces metrics.NoOpModule.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder),
	fx.Provide(NewTracer),
)
