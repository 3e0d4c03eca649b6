package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

// instrumentationName is the meter and tracer name of the batch engine.
const instrumentationName = "github.com/tigerroll/batchflow/pkg/batch"

// OpenTelemetryRecorder records batch metrics through an OpenTelemetry MeterProvider.
type OpenTelemetryRecorder struct {
	jobs         otelmetric.Int64Counter
	jobDuration  otelmetric.Float64Histogram
	steps        otelmetric.Int64Counter
	stepDuration otelmetric.Float64Histogram
	reads        otelmetric.Int64Counter
	filters      otelmetric.Int64Counter
	writes       otelmetric.Int64Counter
	skips        otelmetric.Int64Counter
	commits      otelmetric.Int64Counter
	rollbacks    otelmetric.Int64Counter
	durations    otelmetric.Float64Histogram
}

// NewOpenTelemetryRecorder creates the instruments on a meter of provider.
func NewOpenTelemetryRecorder(provider otelmetric.MeterProvider) (*OpenTelemetryRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OpenTelemetryRecorder{}

	var err error
	counter := func(name, desc string) otelmetric.Int64Counter {
		if err != nil {
			return nil
		}
		var c otelmetric.Int64Counter
		c, err = meter.Int64Counter(name, otelmetric.WithDescription(desc))
		return c
	}
	histogram := func(name, desc string) otelmetric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h otelmetric.Float64Histogram
		h, err = meter.Float64Histogram(name, otelmetric.WithDescription(desc), otelmetric.WithUnit("s"))
		return h
	}

	r.jobs = counter("batch.job.executions", "Job executions by status.")
	r.jobDuration = histogram("batch.job.duration", "Duration of job executions.")
	r.steps = counter("batch.step.executions", "Step executions by status.")
	r.stepDuration = histogram("batch.step.duration", "Duration of step executions.")
	r.reads = counter("batch.item.read", "Items read.")
	r.filters = counter("batch.item.filter", "Items filtered by a processor.")
	r.writes = counter("batch.item.write", "Items written.")
	r.skips = counter("batch.item.skip", "Items skipped.")
	r.commits = counter("batch.chunk.commit", "Committed chunks.")
	r.rollbacks = counter("batch.chunk.rollback", "Rolled back chunks.")
	r.durations = histogram("batch.operation.duration", "Duration of named operations.")
	if err != nil {
		return nil, exception.NewBatchError("metrics", "failed to create OpenTelemetry instruments", err, false, false)
	}
	return r, nil
}

func stepAttributes(execution *model.StepExecution, extra ...attribute.KeyValue) otelmetric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("job_name", metrics.JobNameOf(execution)),
		attribute.String("step_name", execution.StepName),
	}, extra...)
	return otelmetric.WithAttributes(attrs...)
}

func (r *OpenTelemetryRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobs.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.GetStatus().String()),
	))
}

func (r *OpenTelemetryRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	snapshot := execution.SnapshotWithoutSteps()
	attrs := otelmetric.WithAttributes(
		attribute.String("job_name", snapshot.JobName),
		attribute.String("status", snapshot.Status.String()),
	)
	r.jobs.Add(ctx, 1, attrs)
	if snapshot.EndTime != nil {
		r.jobDuration.Record(ctx, snapshot.EndTime.Sub(snapshot.StartTime).Seconds(), attrs)
	}
}

func (r *OpenTelemetryRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.steps.Add(ctx, 1, stepAttributes(execution, attribute.String("status", execution.Status.String())))
}

func (r *OpenTelemetryRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := stepAttributes(execution, attribute.String("status", execution.Status.String()))
	r.steps.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

func (r *OpenTelemetryRecorder) RecordItemRead(ctx context.Context, execution *model.StepExecution) {
	r.reads.Add(ctx, 1, stepAttributes(execution))
}

func (r *OpenTelemetryRecorder) RecordItemFilter(ctx context.Context, execution *model.StepExecution) {
	r.filters.Add(ctx, 1, stepAttributes(execution))
}

func (r *OpenTelemetryRecorder) RecordItemWrite(ctx context.Context, execution *model.StepExecution, count int) {
	r.writes.Add(ctx, int64(count), stepAttributes(execution))
}

func (r *OpenTelemetryRecorder) RecordItemSkip(ctx context.Context, execution *model.StepExecution, phase string) {
	r.skips.Add(ctx, 1, stepAttributes(execution, attribute.String("phase", phase)))
}

func (r *OpenTelemetryRecorder) RecordChunkCommit(ctx context.Context, execution *model.StepExecution, count int) {
	r.commits.Add(ctx, 1, stepAttributes(execution))
}

func (r *OpenTelemetryRecorder) RecordChunkRollback(ctx context.Context, execution *model.StepExecution) {
	r.rollbacks.Add(ctx, 1, stepAttributes(execution))
}

// RecordDuration records duration under the "operation" attribute; every tag becomes an attribute.
func (r *OpenTelemetryRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.durations.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)
