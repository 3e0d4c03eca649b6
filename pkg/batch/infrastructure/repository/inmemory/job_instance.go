package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
)

func copyInstance(ji *model.JobInstance) *model.JobInstance {
	cp := *ji
	return &cp
}

// SaveJobInstance persists a new JobInstance.
// It returns an error if a JobInstance with the same ID already exists.
func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[jobInstance.ID]; exists {
		return fmt.Errorf("JobInstance with ID %s already exists", jobInstance.ID)
	}
	r.jobInstances[jobInstance.ID] = copyInstance(jobInstance)
	r.instanceSeq[jobInstance.ID] = r.next()
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return copyInstance(ji), nil
}

// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and identifying parameters.
func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			return copyInstance(ji), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

// FindJobInstancesByJobName returns the instances of a job, newest first.
func (r *InMemoryJobRepository) FindJobInstancesByJobName(ctx context.Context, jobName string) ([]*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instances []*model.JobInstance
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName {
			instances = append(instances, copyInstance(ji))
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		return r.instanceSeq[instances[i].ID] > r.instanceSeq[instances[j].ID]
	})
	return instances, nil
}

// GetJobNames returns a sorted list of all distinct job names.
func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unique := make(map[string]struct{})
	for _, ji := range r.jobInstances {
		unique[ji.JobName] = struct{}{}
	}
	names := make([]string, 0, len(unique))
	for name := range unique {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
