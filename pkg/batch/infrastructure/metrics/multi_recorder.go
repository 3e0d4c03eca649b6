package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
)

// MultiRecorder fans every call out to a list of recorders, in order.
type MultiRecorder struct {
	recorders []metrics.MetricRecorder
}

// NewMultiRecorder creates a MultiRecorder. Nil recorders are ignored.
func NewMultiRecorder(recorders ...metrics.MetricRecorder) *MultiRecorder {
	m := &MultiRecorder{}
	for _, r := range recorders {
		if r != nil {
			m.recorders = append(m.recorders, r)
		}
	}
	return m
}

// Len returns the number of recorders.
func (m *MultiRecorder) Len() int { return len(m.recorders) }

func (m *MultiRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	for _, r := range m.recorders {
		r.RecordJobStart(ctx, execution)
	}
}

func (m *MultiRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	for _, r := range m.recorders {
		r.RecordJobEnd(ctx, execution)
	}
}

func (m *MultiRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	for _, r := range m.recorders {
		r.RecordStepStart(ctx, execution)
	}
}

func (m *MultiRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	for _, r := range m.recorders {
		r.RecordStepEnd(ctx, execution)
	}
}

func (m *MultiRecorder) RecordItemRead(ctx context.Context, execution *model.StepExecution) {
	for _, r := range m.recorders {
		r.RecordItemRead(ctx, execution)
	}
}

func (m *MultiRecorder) RecordItemFilter(ctx context.Context, execution *model.StepExecution) {
	for _, r := range m.recorders {
		r.RecordItemFilter(ctx, execution)
	}
}

func (m *MultiRecorder) RecordItemWrite(ctx context.Context, execution *model.StepExecution, count int) {
	for _, r := range m.recorders {
		r.RecordItemWrite(ctx, execution, count)
	}
}

func (m *MultiRecorder) RecordItemSkip(ctx context.Context, execution *model.StepExecution, phase string) {
	for _, r := range m.recorders {
		r.RecordItemSkip(ctx, execution, phase)
	}
}

func (m *MultiRecorder) RecordChunkCommit(ctx context.Context, execution *model.StepExecution, count int) {
	for _, r := range m.recorders {
		r.RecordChunkCommit(ctx, execution, count)
	}
}

func (m *MultiRecorder) RecordChunkRollback(ctx context.Context, execution *model.StepExecution) {
	for _, r := range m.recorders {
		r.RecordChunkRollback(ctx, execution)
	}
}

func (m *MultiRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	for _, r := range m.recorders {
		r.RecordDuration(ctx, name, duration, tags)
	}
}

var _ metrics.MetricRecorder = (*MultiRecorder)(nil)
