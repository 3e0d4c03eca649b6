// Package metrics defines the observability ports of the engine: a MetricRecorder for
// counters and durations and a Tracer for spans. Implementations live in
// infrastructure/metrics; the no-op versions here are the fallback.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

// Skip phases reported to RecordItemSkip.
const (
	PhaseRead    = "read"
	PhaseProcess = "process"
	PhaseWrite   = "write"
)

// MetricRecorder is an abstract interface for recording metrics related to batch execution.
// Recorders receive the execution they describe; they must not mutate it.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	// RecordJobEnd records the end of a JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	// RecordStepEnd records the end of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records the successful reading of an item.
	RecordItemRead(ctx context.Context, execution *model.StepExecution)
	// RecordItemFilter records an item dropped by a processor.
	RecordItemFilter(ctx context.Context, execution *model.StepExecution)
	// RecordItemWrite records the successful writing of count items.
	RecordItemWrite(ctx context.Context, execution *model.StepExecution, count int)
	// RecordItemSkip records a skipped item. phase is one of PhaseRead, PhaseProcess or PhaseWrite.
	RecordItemSkip(ctx context.Context, execution *model.StepExecution, phase string)

	// RecordChunkCommit records the commit of a chunk of count items.
	RecordChunkCommit(ctx context.Context, execution *model.StepExecution, count int)
	// RecordChunkRollback records a rolled back chunk.
	RecordChunkRollback(ctx context.Context, execution *model.StepExecution)

	// RecordDuration records the execution time of a specific operation.
	//
	// name: The name of the duration to record (e.g., "partition_duration").
	// tags: Additional labels, e.g. `{"step_name": "score"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

// JobNameOf returns the job name of a step execution, or "" for a detached step.
func JobNameOf(execution *model.StepExecution) string {
	if execution == nil || execution.JobExecution == nil {
		return ""
	}
	return execution.JobExecution.JobName
}
