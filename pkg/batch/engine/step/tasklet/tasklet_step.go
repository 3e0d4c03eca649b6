// Package tasklet implements the single-shot step.
package tasklet

import (
	"context"
	"database/sql"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	step "github.com/tigerroll/batchflow/pkg/batch/engine/step"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// TaskletStep is an implementation of port.Step for Tasklet-oriented processing.
// The tasklet runs inside one transaction, available to it through tx.FromContext.
type TaskletStep struct {
	id                   string
	provider             port.TaskletProvider
	jobRepository        repository.JobRepository
	stepListeners        []port.StepExecutionListener
	txManager            tx.TransactionManager
	isolationLevel       sql.IsolationLevel
	allowStartIfComplete bool

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*TaskletStep)(nil)

// Option configures a TaskletStep.
type Option func(*TaskletStep)

func WithJobRepository(r repository.JobRepository) Option {
	return func(s *TaskletStep) { s.jobRepository = r }
}

func WithStepListeners(l ...port.StepExecutionListener) Option {
	return func(s *TaskletStep) { s.stepListeners = append(s.stepListeners, l...) }
}

func WithTransactionManager(m tx.TransactionManager) Option {
	return func(s *TaskletStep) { s.txManager = m }
}

func WithIsolationLevel(level string) Option {
	return func(s *TaskletStep) { s.isolationLevel = tx.ParseIsolationLevel(level) }
}

func WithAllowStartIfComplete(allow bool) Option {
	return func(s *TaskletStep) { s.allowStartIfComplete = allow }
}

func WithMetrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) Option {
	return func(s *TaskletStep) {
		s.metricRecorder = recorder
		s.tracer = tracer
	}
}

// NewTaskletStep creates a new TaskletStep instance.
func NewTaskletStep(id string, provider port.TaskletProvider, opts ...Option) *TaskletStep {
	s := &TaskletStep{
		id:             id,
		provider:       provider,
		txManager:      tx.NewNoOpTransactionManager(),
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fixed returns a provider handing out the same tasklet to every execution.
func Fixed(t port.Tasklet) port.TaskletProvider {
	return func(ctx context.Context, scope port.StepScope) (port.Tasklet, error) {
		return t, nil
	}
}

func (s *TaskletStep) ID() string { return s.id }

func (s *TaskletStep) StepName() string { return s.id }

// IsAllowStartIfComplete implements port.Step.
func (s *TaskletStep) IsAllowStartIfComplete() bool { return s.allowStartIfComplete }

// SetMetricRecorder replaces the metric recorder.
func (s *TaskletStep) SetMetricRecorder(recorder metrics.MetricRecorder) { s.metricRecorder = recorder }

// SetTracer replaces the tracer.
func (s *TaskletStep) SetTracer(tracer metrics.Tracer) { s.tracer = tracer }

// Execute runs the Tasklet logic.
func (s *TaskletStep) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	lc := step.NewLifecycle(s.id, s.jobRepository, s.stepListeners, s.metricRecorder, s.tracer)
	spanCtx, end, err := lc.Start(ctx, stepExecution)
	if err != nil {
		return lc.Finish(ctx, stepExecution, err)
	}
	defer end()

	logger.Infof("TaskletStep '%s' executing.", stepExecution.StepName)
	exitStatus, runErr := s.execute(spanCtx, jobExecution, stepExecution)
	if runErr == nil && exitStatus != "" {
		stepExecution.ExitStatus = exitStatus
	}
	return lc.Finish(spanCtx, stepExecution, runErr)
}

func (s *TaskletStep) execute(ctx context.Context, jobExecution *model.JobExecution, se *model.StepExecution) (exit model.ExitStatus, err error) {
	tasklet, err := s.provider(ctx, port.NewStepScope(jobExecution, se))
	if err != nil {
		return "", exception.NewBatchError(s.id, "failed to build tasklet", err, false, false)
	}
	if tasklet == nil {
		return "", exception.NewBatchErrorf(s.id, "tasklet step '%s' has no tasklet", s.id)
	}
	defer func() {
		if cerr := tasklet.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Errorf("TaskletStep '%s': failed to close Tasklet: %v", s.id, cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	t, err := s.txManager.Begin(ctx, &sql.TxOptions{Isolation: s.isolationLevel})
	if err != nil {
		return "", exception.NewBatchError(s.id, "failed to begin tasklet transaction", err, false, false)
	}

	exit, err = tasklet.Execute(tx.WithTx(ctx, t), se)
	if err != nil {
		if rbErr := s.txManager.Rollback(t); rbErr != nil {
			logger.Errorf("TaskletStep '%s': rollback failed: %v", s.id, rbErr)
		}
		se.RollbackCount++
		return "", err
	}
	if err := s.txManager.Commit(t); err != nil {
		return "", exception.NewBatchError(s.id, "failed to commit tasklet transaction", err, false, false)
	}
	se.CommitCount++
	return exit, nil
}
