package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// SimpleJobRunner is an implementation of port.JobRunner that calls the job's Run method and
// settles the execution when the job could not.
type SimpleJobRunner struct {
	jobRepository repository.JobRepository
}

// NewSimpleJobRunner creates an instance of SimpleJobRunner.
func NewSimpleJobRunner(repo repository.JobRepository) port.JobRunner {
	return &SimpleJobRunner{jobRepository: repo}
}

// Run executes the job. A panic, or a return that leaves the execution unfinished, ends it
// FAILED (or STOPPED when ctx was cancelled).
func (r *SimpleJobRunner) Run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("JobRunner: job '%s' panicked: %v\n%s", job.JobName(), rec, debug.Stack())
			err = exception.NewBatchError(job.JobName(), fmt.Sprintf("job panicked: %v", rec), nil, false, false)
		}
		r.settle(ctx, jobExecution, err)
	}()
	return job.Run(ctx, jobExecution, jobExecution.Parameters)
}

func (r *SimpleJobRunner) settle(ctx context.Context, jobExecution *model.JobExecution, err error) {
	if jobExecution.GetStatus().IsFinished() {
		return
	}
	switch {
	case ctx.Err() != nil:
		jobExecution.MarkAsStopped()
	case err != nil:
		jobExecution.MarkAsFailed(err)
	default:
		logger.Warnf("JobRunner: job execution %s returned without a terminal status; marking COMPLETED.", jobExecution.ID)
		jobExecution.MarkAsCompleted()
	}
	if r.jobRepository == nil {
		return
	}
	if uerr := r.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); uerr != nil {
		logger.Errorf("JobRunner: failed to update JobExecution (ID: %s): %v", jobExecution.ID, uerr)
	}
}
