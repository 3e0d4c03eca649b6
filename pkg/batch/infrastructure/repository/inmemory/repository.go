// Package inmemory provides an in-memory implementation of the JobRepository interface.
// Every object is stored as a deep snapshot (contexts go through their serialized form), so
// callers observe the same state a durable store would return on restart.
package inmemory

import (
	"sync"

	"github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
)

type storedStepExecution struct {
	seq  int64
	step *model.StepExecution
}

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
type InMemoryJobRepository struct {
	mu             sync.RWMutex
	seq            int64
	jobInstances   map[string]*model.JobInstance
	instanceSeq    map[string]int64
	jobExecutions  map[string]*model.JobExecution
	executionSeq   map[string]int64
	stepExecutions map[string]*storedStepExecution
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		instanceSeq:    make(map[string]int64),
		jobExecutions:  make(map[string]*model.JobExecution),
		executionSeq:   make(map[string]int64),
		stepExecutions: make(map[string]*storedStepExecution),
	}
}

func (r *InMemoryJobRepository) next() int64 {
	r.seq++
	return r.seq
}

// Close releases resources used by the repository. It holds none.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
