package usecase

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// SimpleJobExplorer is a simple implementation of the JobExplorer interface.
// It queries batch metadata using a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

// GetJobExecution retrieves a JobExecution by its ID.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecution (ID: %s)", executionID), err, false, false)
	}
	return je, nil
}

// GetJobExecutions retrieves all JobExecutions associated with the specified JobInstance.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	instance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if errors.Is(err, repository.ErrJobInstanceNotFound) {
		logger.Warnf("JobInstance (ID: %s) not found.", instanceID)
		return []*model.JobExecution{}, nil
	}
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstance (ID: %s)", instanceID), err, false, false)
	}

	executions, err := e.jobRepository.FindJobExecutionsByJobInstance(ctx, instance)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecutions of JobInstance (ID: %s)", instanceID), err, false, false)
	}
	logger.Debugf("Retrieved %d JobExecutions of JobInstance (ID: %s).", len(executions), instanceID)
	return executions, nil
}

// GetLastJobExecution retrieves the latest JobExecution for a given JobInstance.
func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindLatestJobExecution(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve the latest JobExecution of JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return je, nil
}

// GetJobInstance retrieves a JobInstance by its ID.
func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	instance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return instance, nil
}

// GetJobInstances retrieves the instances of a job, newest first.
func (e *SimpleJobExplorer) GetJobInstances(ctx context.Context, jobName string) ([]*model.JobInstance, error) {
	instances, err := e.jobRepository.FindJobInstancesByJobName(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstances of job '%s'", jobName), err, false, false)
	}
	return instances, nil
}

// GetJobNames retrieves the names of all jobs that have been launched.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	names, err := e.jobRepository.GetJobNames(ctx)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", "Failed to retrieve job names", err, false, false)
	}
	return names, nil
}

// GetRunningExecutions retrieves the executions of a job that have not finished.
func (e *SimpleJobExplorer) GetRunningExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	executions, err := e.jobRepository.FindRunningJobExecutions(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve running executions of job '%s'", jobName), err, false, false)
	}
	return executions, nil
}
