package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

// storeExecution keeps a snapshot without step executions; those are stored on their own.
func storeExecution(je *model.JobExecution) *model.JobExecution {
	return je.SnapshotWithoutSteps()
}

// SaveJobExecution persists a new JobExecution.
// It returns an error if a JobExecution with the same ID already exists.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
	}
	r.jobExecutions[jobExecution.ID] = storeExecution(jobExecution)
	r.executionSeq[jobExecution.ID] = r.next()
	return nil
}

// UpdateJobExecution updates an existing JobExecution and increments its Version.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		return fmt.Errorf("JobExecution with ID %s not found for update: %w", jobExecution.ID, repository.ErrJobExecutionNotFound)
	}
	if jobExecution.Version < stored.Version {
		return fmt.Errorf("JobExecution %s has version %d, stored version is %d: %w",
			jobExecution.ID, jobExecution.Version, stored.Version, exception.ErrOptimisticLockingFailure)
	}
	jobExecution.Version = stored.Version + 1
	r.jobExecutions[jobExecution.ID] = storeExecution(jobExecution)
	return nil
}

// assemble returns a copy of a stored execution with its step executions in save order.
// Callers must hold the read lock.
func (r *InMemoryJobRepository) assemble(stored *model.JobExecution) *model.JobExecution {
	cp := stored.Snapshot()

	var steps []*storedStepExecution
	for _, s := range r.stepExecutions {
		if s.step.JobExecutionID == cp.ID {
			steps = append(steps, s)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].seq < steps[j].seq })

	cp.StepExecutions = make([]*model.StepExecution, 0, len(steps))
	for _, s := range steps {
		se := s.step.Snapshot()
		se.JobExecution = cp
		cp.StepExecutions = append(cp.StepExecutions, se)
	}
	return cp
}

// FindJobExecutionByID finds a JobExecution by its ID together with its StepExecutions.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.assemble(stored), nil
}

func (r *InMemoryJobRepository) executionsOf(jobInstanceID string) []*model.JobExecution {
	var executions []*model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstanceID {
			executions = append(executions, je)
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return r.executionSeq[executions[i].ID] > r.executionSeq[executions[j].ID]
	})
	return executions
}

// FindLatestJobExecution returns the most recently created execution of an instance.
func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := r.executionsOf(jobInstanceID)
	if len(executions) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.assemble(executions[0]), nil
}

// FindJobExecutionsByJobInstance finds all JobExecutions of the instance, newest first.
func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.executionsOf(jobInstance.ID)
	executions := make([]*model.JobExecution, len(stored))
	for i, je := range stored {
		executions[i] = r.assemble(je)
	}
	return executions, nil
}

// FindRunningJobExecutions returns the executions of a job that have not finished.
func (r *InMemoryJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var running []*model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobName == jobName && je.Status.IsRunning() {
			running = append(running, r.assemble(je))
		}
	}
	sort.Slice(running, func(i, j int) bool {
		return r.executionSeq[running[i].ID] > r.executionSeq[running[j].ID]
	})
	return running, nil
}
