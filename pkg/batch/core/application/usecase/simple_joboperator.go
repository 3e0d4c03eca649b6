package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// SimpleJobOperator implements JobOperator on top of the SimpleJobLauncher that started
// the executions.
type SimpleJobOperator struct {
	jobRepository repository.JobRepository
	jobRegistry   *JobRegistry
	jobLauncher   *SimpleJobLauncher
}

var _ JobOperator = (*SimpleJobOperator)(nil)

// NewSimpleJobOperator creates a new SimpleJobOperator.
func NewSimpleJobOperator(repo repository.JobRepository, registry *JobRegistry, launcher *SimpleJobLauncher) *SimpleJobOperator {
	return &SimpleJobOperator{
		jobRepository: repo,
		jobRegistry:   registry,
		jobLauncher:   launcher,
	}
}

// Restart restarts the job instance of the specified execution with the parameters of that
// execution. The job incrementer is not applied.
func (o *SimpleJobOperator) Restart(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Infof("JobOperator: Restart called. Execution ID: %s", executionID)

	prev, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_operator", fmt.Sprintf("Failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	if prev.Status != model.BatchStatusFailed && prev.Status != model.BatchStatusStopped {
		return nil, exception.NewBatchErrorf("job_operator", "JobExecution (ID: %s) is %s; only FAILED or STOPPED executions can be restarted", executionID, prev.Status)
	}

	job, err := o.jobRegistry.Get(prev.JobName)
	if err != nil {
		return nil, exception.NewBatchError("job_operator", "Failed to restart job", err, false, false)
	}
	return o.jobLauncher.start(ctx, job, prev.Parameters)
}

// Stop requests a running execution to stop.
func (o *SimpleJobOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Stop called. Execution ID: %s", executionID)
	if err := o.jobLauncher.stop(executionID); err != nil {
		return exception.NewBatchError("job_operator", "Failed to stop JobExecution", err, false, false)
	}
	return nil
}

// Abandon marks a finished FAILED or STOPPED execution as ABANDONED.
func (o *SimpleJobOperator) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Abandon called. Execution ID: %s", executionID)

	je, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("Failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	if je.Status.IsRunning() {
		return exception.NewBatchErrorf("job_operator", "JobExecution (ID: %s) is %s; stop it before abandoning", executionID, je.Status)
	}
	if err := je.TransitionTo(model.BatchStatusAbandoned); err != nil {
		return exception.NewBatchError("job_operator", "Failed to abandon JobExecution", err, false, false)
	}
	je.ExitStatus = model.ExitStatusAbandoned
	if err := o.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		return exception.NewBatchError("job_operator", "Failed to persist abandoned JobExecution", err, false, false)
	}
	logger.Infof("JobExecution (ID: %s) abandoned.", executionID)
	return nil
}
