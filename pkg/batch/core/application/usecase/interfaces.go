package usecase

import (
	"context"
	"errors"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

var (
	// ErrJobExecutionAlreadyRunning is returned when the job instance has an execution that has not finished.
	ErrJobExecutionAlreadyRunning = errors.New("job execution already running")
	// ErrJobInstanceAlreadyComplete is returned when the job instance already completed.
	ErrJobInstanceAlreadyComplete = errors.New("job instance already complete")
	// ErrJobRestartNotAllowed is returned when a previous execution exists and the job cannot be restarted.
	ErrJobRestartNotAllowed = errors.New("job restart not allowed")
	// ErrNoSuchJob is returned when no job is registered under the requested name.
	ErrNoSuchJob = errors.New("no such job")
	// ErrJobExecutionNotRunning is returned when stopping an execution this process is not running.
	ErrJobExecutionNotRunning = errors.New("job execution not running")
)

func init() {
	exception.RegisterErrorType("ErrJobExecutionAlreadyRunning", ErrJobExecutionAlreadyRunning)
	exception.RegisterErrorType("ErrJobInstanceAlreadyComplete", ErrJobInstanceAlreadyComplete)
	exception.RegisterErrorType("ErrJobRestartNotAllowed", ErrJobRestartNotAllowed)
	exception.RegisterErrorType("ErrNoSuchJob", ErrNoSuchJob)
}

// JobLauncher starts job executions.
type JobLauncher interface {
	// Launch creates the execution of the named job and starts it in the background.
	// The returned execution is a snapshot taken before the job started.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
	// Run launches the job and waits until the execution reaches a terminal status.
	Run(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// JobOperator controls executions after they were launched.
type JobOperator interface {
	// Restart starts a new execution of the job instance of a FAILED or STOPPED execution.
	Restart(ctx context.Context, executionID string) (*model.JobExecution, error)
	// Stop requests a running execution to stop. The job stops at the next node boundary
	// or chunk commit.
	Stop(ctx context.Context, executionID string) error
	// Abandon marks a FAILED or STOPPED execution so that it is never restarted.
	Abandon(ctx context.Context, executionID string) error
}

// JobExplorer provides read-only access to batch metadata.
type JobExplorer interface {
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)
	// GetJobExecutions returns the executions of an instance, newest first.
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)
	GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error)
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)
	// GetJobInstances returns the instances of a job, newest first.
	GetJobInstances(ctx context.Context, jobName string) ([]*model.JobInstance, error)
	GetJobNames(ctx context.Context) ([]string, error)
	GetRunningExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)
}
