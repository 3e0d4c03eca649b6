package incrementer

import (
	"fmt"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// RunIDIncrementer adds or increments an identifying LONG parameter, "run.id" by default.
// It sets the parameter to 1 if it does not exist, or increments its value if it does.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a new instance of RunIDIncrementer.
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	return &RunIDIncrementer{name: name}
}

// GetNext returns a copy of params with the run id incremented.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := params
	current, ok := params.GetInt64(i.name)
	if !ok {
		next.Put(i.name, int64(1))
		logger.Debugf("JobParametersIncrementer '%s': '%s' not found, setting to 1.", i.name, i.name)
		return next
	}
	next.Put(i.name, current+1)
	logger.Debugf("JobParametersIncrementer '%s': Incrementing '%s' from %d to %d.", i.name, i.name, current, current+1)
	return next
}

// String returns the string representation of RunIDIncrementer.
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)
