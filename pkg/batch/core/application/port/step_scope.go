package port

import (
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
)

// StepScope carries the values a step execution (or a partition) may bind its collaborators
// to. It is built once per instantiation; values read from it do not change while the
// step runs, except StepContext which is the live local context.
type StepScope struct {
	JobName        string
	JobExecutionID string
	// StepName is the name of the step execution, "<step>:<partition>" for a partition worker.
	StepName string
	// PartitionName is the partition key, empty outside a partitioned step.
	PartitionName string
	JobParameters model.JobParameters
	// JobContext is a snapshot of the shared job context taken at instantiation.
	JobContext model.ExecutionContext
	// StepContext is the local context of the step execution.
	StepContext model.ExecutionContext
}

// NewStepScope builds the scope of a step execution. jobExecution may be nil.
func NewStepScope(jobExecution *model.JobExecution, stepExecution *model.StepExecution) StepScope {
	scope := StepScope{
		StepName:    stepExecution.StepName,
		JobContext:  model.NewExecutionContext(),
		StepContext: stepExecution.ExecutionContext,
	}
	if scope.StepContext == nil {
		stepExecution.ExecutionContext = model.NewExecutionContext()
		scope.StepContext = stepExecution.ExecutionContext
	}
	if jobExecution != nil {
		scope.JobName = jobExecution.JobName
		scope.JobExecutionID = jobExecution.ID
		scope.JobParameters = jobExecution.Parameters
		scope.JobContext = jobExecution.ContextSnapshot()
	}
	scope.PartitionName, _ = scope.StepContext.GetString(model.PartitionKeyKey)
	return scope
}

// JobParamString returns a string job parameter or def.
func (s StepScope) JobParamString(name, def string) string {
	if v, ok := s.JobParameters.GetString(name); ok {
		return v
	}
	return def
}

// JobParamInt returns an integer job parameter or def.
func (s StepScope) JobParamInt(name string, def int) int {
	if v, ok := s.JobParameters.GetInt(name); ok {
		return v
	}
	return def
}

// JobContextValue returns a value of the shared job context as seen at instantiation.
func (s StepScope) JobContextValue(key string) (interface{}, bool) {
	return s.JobContext.Get(key)
}

// JobContextFloat64 returns a numeric shared context value or def.
func (s StepScope) JobContextFloat64(key string, def float64) float64 {
	if v, ok := s.JobContext.GetFloat64(key); ok {
		return v
	}
	return def
}

// JobContextString returns a string shared context value or def.
func (s StepScope) JobContextString(key, def string) string {
	if v, ok := s.JobContext.GetString(key); ok {
		return v
	}
	return def
}

// JobContextInto decodes a structured shared context value (e.g. a promoted record) into target.
// It returns false when the key is absent.
func (s StepScope) JobContextInto(key string, target interface{}) (bool, error) {
	v, ok := s.JobContext.Get(key)
	if !ok || v == nil {
		return false, nil
	}
	if err := configbinder.Decode(v, target); err != nil {
		return true, err
	}
	return true, nil
}

// IsPartitioned reports whether the scope belongs to a partition worker.
func (s StepScope) IsPartitioned() bool {
	_, ok := s.StepContext.GetInt(model.PartitionCountKey)
	return ok
}

// PartitionIndex returns the index stamped on the partition context.
func (s StepScope) PartitionIndex() (int, bool) {
	return s.StepContext.GetInt(model.PartitionIndexKey)
}

// PartitionCount returns the number of partitions of the step.
func (s StepScope) PartitionCount() (int, bool) {
	return s.StepContext.GetInt(model.PartitionCountKey)
}
