package metrics_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"

	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	imetrics "github.com/tigerroll/batchflow/pkg/batch/infrastructure/metrics"
)

func newExecutions() (*model.JobExecution, *model.StepExecution) {
	je := model.NewJobExecution("instance-1", "scoreJob", model.NewJobParameters())
	se := model.NewStepExecution(model.NewID(), je, "load")
	je.AddStepExecution(se)
	return je, se
}

func TestPrometheusRecorderCountsItemsAndChunks(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec := imetrics.NewPrometheusRecorderWithRegistry(registry)
	ctx := context.Background()
	je, se := newExecutions()

	rec.RecordJobStart(ctx, je)
	rec.RecordStepStart(ctx, se)
	rec.RecordItemRead(ctx, se)
	rec.RecordItemRead(ctx, se)
	rec.RecordItemFilter(ctx, se)
	rec.RecordItemWrite(ctx, se, 1)
	rec.RecordItemSkip(ctx, se, metrics.PhaseProcess)
	rec.RecordChunkCommit(ctx, se, 1)
	rec.RecordChunkRollback(ctx, se)
	se.MarkAsCompleted()
	rec.RecordStepEnd(ctx, se)
	je.MarkAsCompleted()
	rec.RecordJobEnd(ctx, je)

	expected := `
# HELP batch_step_read_total Total items read by step.
# TYPE batch_step_read_total counter
batch_step_read_total{job_name="scoreJob",step_name="load"} 2
# HELP batch_step_write_total Total items written by step.
# TYPE batch_step_write_total counter
batch_step_write_total{job_name="scoreJob",step_name="load"} 1
# HELP batch_item_skip_total Total items skipped by step and phase.
# TYPE batch_item_skip_total counter
batch_item_skip_total{job_name="scoreJob",phase="process",step_name="load"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"batch_step_read_total", "batch_step_write_total", "batch_item_skip_total"))

	count, err := testutil.GatherAndCount(registry, "batch_job_duration_seconds", "batch_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(registry, "batch_step_rollback_total", "batch_step_filter_total", "batch_step_commit_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPrometheusRecorderRecordsOperationDuration(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec := imetrics.NewPrometheusRecorderWithRegistry(registry)

	rec.RecordDuration(context.Background(), "partition_duration", 250*time.Millisecond, map[string]string{"step_name": "score"})

	count, err := testutil.GatherAndCount(registry, "batch_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestOpenTelemetryRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider, err := imetrics.NewMeterProvider(context.Background(), config.NewConfig().Batch.Metrics, reader)
	require.NoError(t, err)
	rec, err := imetrics.NewOpenTelemetryRecorder(provider)
	require.NoError(t, err)

	ctx := context.Background()
	_, se := newExecutions()
	rec.RecordItemRead(ctx, se)
	rec.RecordItemRead(ctx, se)
	rec.RecordItemRead(ctx, se)
	rec.RecordItemWrite(ctx, se, 2)
	rec.RecordItemWrite(ctx, se, 3)
	rec.RecordChunkCommit(ctx, se, 5)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(3), sumOf(t, rm, "batch.item.read"))
	assert.Equal(t, int64(5), sumOf(t, rm, "batch.item.write"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.chunk.commit"))
}

func TestOpenTelemetryTracerNestsStepSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := imetrics.NewOpenTelemetryTracer(tp)
	je, se := newExecutions()
	boom := errors.New("boom")

	jobCtx, endJob := tracer.StartJobSpan(context.Background(), je)
	stepCtx, endStep := tracer.StartStepSpan(jobCtx, se)
	tracer.RecordEvent(stepCtx, "chunk", map[string]interface{}{"items": 2, "final": true})
	tracer.RecordError(stepCtx, "load", boom)
	se.MarkAsFailed(boom)
	endStep()
	je.MarkAsFailed(boom)
	endJob()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	step, job := spans[0], spans[1]
	assert.Equal(t, "step load", step.Name())
	assert.Equal(t, "job scoreJob", job.Name())
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())
	assert.Equal(t, codes.Error, step.Status().Code)
	assert.Equal(t, codes.Error, job.Status().Code)

	var names []string
	for _, ev := range step.Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"chunk", "exception"}, names)
}

// countingRecorder counts calls per method.
type countingRecorder struct {
	metrics.NoOpMetricRecorder
	mu     sync.Mutex
	counts map[string]int
	steps  []string
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counts: map[string]int{}}
}

func (r *countingRecorder) inc(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]++
}

func (r *countingRecorder) get(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *countingRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.inc("jobStart")
}

func (r *countingRecorder) RecordItemRead(ctx context.Context, execution *model.StepExecution) {
	r.mu.Lock()
	r.steps = append(r.steps, metrics.JobNameOf(execution)+"/"+execution.StepName)
	r.mu.Unlock()
	r.inc("itemRead")
}

func (r *countingRecorder) RecordItemWrite(ctx context.Context, execution *model.StepExecution, count int) {
	for i := 0; i < count; i++ {
		r.inc("itemWrite")
	}
}

func TestMultiRecorderFansOut(t *testing.T) {
	a, b := newCountingRecorder(), newCountingRecorder()
	multi := imetrics.NewMultiRecorder(a, nil, b)
	assert.Equal(t, 2, multi.Len())

	je, se := newExecutions()
	multi.RecordJobStart(context.Background(), je)
	multi.RecordItemWrite(context.Background(), se, 3)

	for _, r := range []*countingRecorder{a, b} {
		assert.Equal(t, 1, r.get("jobStart"))
		assert.Equal(t, 3, r.get("itemWrite"))
	}
}

func TestAsyncMetricRecorderDrainsOnClose(t *testing.T) {
	inner := newCountingRecorder()
	async := imetrics.NewAsyncMetricRecorder(64, inner)
	je, se := newExecutions()
	ctx, cancel := context.WithCancel(context.Background())

	async.RecordJobStart(ctx, je)
	for i := 0; i < 10; i++ {
		async.RecordItemRead(ctx, se)
	}
	cancel()
	async.Close()

	assert.Equal(t, 1, inner.get("jobStart"))
	assert.Equal(t, 10, inner.get("itemRead"))
	assert.Equal(t, "scoreJob/load", inner.steps[0], "events carry the job name of the step")

	// Events after Close are dropped.
	async.RecordItemRead(context.Background(), se)
	async.Close()
	assert.Equal(t, 10, inner.get("itemRead"))
}

func TestNewMetricRecorderFromConfig(t *testing.T) {
	t.Run("no exporter", func(t *testing.T) {
		lc := fxtest.NewLifecycle(t)
		rec, err := imetrics.NewMetricRecorder(lc, config.NewConfig())
		require.NoError(t, err)
		assert.IsType(t, &metrics.NoOpMetricRecorder{}, rec)
	})

	t.Run("prometheus and otel", func(t *testing.T) {
		lc := fxtest.NewLifecycle(t)
		cfg := config.NewConfig()
		cfg.Batch.Metrics.Exporters = []string{imetrics.ExporterPrometheus, imetrics.ExporterOTel}
		rec, err := imetrics.NewMetricRecorder(lc, cfg)
		require.NoError(t, err)
		multi, ok := rec.(*imetrics.MultiRecorder)
		require.True(t, ok)
		assert.Equal(t, 2, multi.Len())
		lc.RequireStart().RequireStop()
	})

	t.Run("async", func(t *testing.T) {
		lc := fxtest.NewLifecycle(t)
		cfg := config.NewConfig()
		cfg.Batch.Metrics.Exporters = []string{imetrics.ExporterPrometheus}
		cfg.Batch.Metrics.AsyncBufferSize = 16
		rec, err := imetrics.NewMetricRecorder(lc, cfg)
		require.NoError(t, err)
		assert.IsType(t, &imetrics.AsyncMetricRecorder{}, rec)
		lc.RequireStart().RequireStop()
	})

	t.Run("unknown exporter", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Batch.Metrics.Exporters = []string{"statsd"}
		_, err := imetrics.NewMetricRecorder(fxtest.NewLifecycle(t), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "statsd")
	})

	t.Run("tracing disabled", func(t *testing.T) {
		tracer, err := imetrics.NewTracer(fxtest.NewLifecycle(t), config.NewConfig())
		require.NoError(t, err)
		assert.IsType(t, &metrics.NoOpTracer{}, tracer)
	})

	t.Run("unsupported protocol", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Batch.Metrics.Tracing = true
		cfg.Batch.Metrics.OTLPEndpoint = "localhost:4317"
		cfg.Batch.Metrics.OTLPProtocol = "udp"
		_, err := imetrics.NewTracer(fxtest.NewLifecycle(t), cfg)
		require.Error(t, err)
	})
}
