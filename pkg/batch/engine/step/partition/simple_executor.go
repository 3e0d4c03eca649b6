package partition

import (
	"context"
	"fmt"
	"runtime/debug"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// SimpleStepExecutor executes the worker Step synchronously within the caller's goroutine.
// A panic inside the step fails its StepExecution instead of crashing the process.
type SimpleStepExecutor struct {
	jobRepository repository.JobRepository
}

// NewSimpleStepExecutor creates a new instance of SimpleStepExecutor. jobRepository may be nil.
func NewSimpleStepExecutor(jobRepository repository.JobRepository) port.StepExecutor {
	return &SimpleStepExecutor{jobRepository: jobRepository}
}

// ExecuteStep implements port.StepExecutor.
func (e *SimpleStepExecutor) ExecuteStep(ctx context.Context, step port.Step, jobExecution *model.JobExecution, stepExecution *model.StepExecution) (result *model.StepExecution, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Step '%s' panicked: %v\n%s", stepExecution.StepName, r, debug.Stack())
			err = exception.NewBatchError("step_executor", fmt.Sprintf("step '%s' panicked", stepExecution.StepName), fmt.Errorf("%v", r), false, false)
			stepExecution.MarkAsFailed(err)
			e.persist(ctx, stepExecution)
			result = stepExecution
		}
	}()

	logger.Debugf("Executing step '%s' (StepExecution ID: %s).", stepExecution.StepName, stepExecution.ID)
	err = step.Execute(ctx, jobExecution, stepExecution)
	if !stepExecution.Status.IsFinished() {
		stepExecution.MarkAsFailed(err)
	}
	e.persist(ctx, stepExecution)
	return stepExecution, err
}

func (e *SimpleStepExecutor) persist(ctx context.Context, stepExecution *model.StepExecution) {
	if e.jobRepository == nil {
		return
	}
	if err := e.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), stepExecution); err != nil {
		logger.Errorf("Step '%s': failed to persist StepExecution: %v", stepExecution.StepName, err)
	}
}
