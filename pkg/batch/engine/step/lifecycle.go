// Package step holds the execution lifecycle shared by every step kind: status changes,
// step listeners, persistence, metrics and the step span.
package step

import (
	"context"
	"errors"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// Lifecycle drives a StepExecution from STARTING to a terminal status.
// Repository may be nil for steps executed outside a job (tests).
type Lifecycle struct {
	StepName   string
	Repository repository.JobRepository
	Listeners  []port.StepExecutionListener
	Recorder   metrics.MetricRecorder
	Tracer     metrics.Tracer
}

// NewLifecycle creates a Lifecycle, substituting no-op metrics for nil ones.
func NewLifecycle(stepName string, repo repository.JobRepository, listeners []port.StepExecutionListener, recorder metrics.MetricRecorder, tracer metrics.Tracer) *Lifecycle {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Lifecycle{
		StepName:   stepName,
		Repository: repo,
		Listeners:  listeners,
		Recorder:   recorder,
		Tracer:     tracer,
	}
}

// Start marks the execution STARTED, notifies BeforeStep and persists it.
// The returned context carries the step span; end must be called once the step finished.
func (l *Lifecycle) Start(ctx context.Context, se *model.StepExecution) (spanCtx context.Context, end func(), err error) {
	spanCtx, end = l.Tracer.StartStepSpan(ctx, se)

	se.MarkAsStarted()
	l.Recorder.RecordStepStart(spanCtx, se)
	for _, listener := range l.Listeners {
		listener.BeforeStep(spanCtx, se)
	}
	if err := l.Persist(spanCtx, se); err != nil {
		end()
		return ctx, func() {}, exception.NewBatchError(l.StepName, "failed to update StepExecution status to STARTED", err, false, false)
	}
	return spanCtx, end, nil
}

// Finish sets the final status from runErr, lets AfterStep listeners adjust the exit status
// and persists the result. A run interrupted by cancellation of ctx ends STOPPED and
// Finish returns nil for it; any other runErr ends FAILED and is returned.
func (l *Lifecycle) Finish(ctx context.Context, se *model.StepExecution, runErr error) error {
	switch {
	case runErr == nil:
		se.MarkAsCompleted()
	case IsInterruption(ctx, runErr):
		logger.Warnf("Step '%s' interrupted: %v", l.StepName, runErr)
		se.MarkAsStopped()
		runErr = nil
	default:
		l.Tracer.RecordError(ctx, l.StepName, runErr)
		se.MarkAsFailed(runErr)
	}

	for _, listener := range l.Listeners {
		if exit := listener.AfterStep(ctx, se); exit != "" {
			se.ExitStatus = exit
		}
	}

	if err := l.Persist(ctx, se); err != nil {
		logger.Errorf("Step '%s': failed to update final StepExecution state: %v", l.StepName, err)
		if runErr == nil {
			runErr = err
		}
	}
	l.Recorder.RecordStepEnd(ctx, se)

	logger.WithFields(logger.Fields{
		"step":   se.StepName,
		"status": se.Status,
		"exit":   se.ExitStatus,
		"read":   se.ReadCount,
		"write":  se.WriteCount,
		"skip":   se.SkipCount(),
	}).Info("Step finished.")
	return runErr
}

// Persist stores the current state of the execution.
func (l *Lifecycle) Persist(ctx context.Context, se *model.StepExecution) error {
	if l.Repository == nil {
		return nil
	}
	return l.Repository.UpdateStepExecution(context.WithoutCancel(ctx), se)
}

// IsInterruption reports whether err is the cancellation of ctx rather than a failure.
func IsInterruption(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
