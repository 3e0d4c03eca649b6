package incrementer

import (
	"github.com/google/uuid"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// CorrelationIDIncrementer stamps every launch with a fresh UUID under a non-identifying
// parameter, "correlationId" by default. It does not change the job instance identity, so
// it can be combined with restarts.
type CorrelationIDIncrementer struct {
	name string
}

// NewCorrelationIDIncrementer creates a new instance of CorrelationIDIncrementer.
func NewCorrelationIDIncrementer(name string) *CorrelationIDIncrementer {
	return &CorrelationIDIncrementer{name: name}
}

// GetNext returns a copy of params with a new correlation id.
func (i *CorrelationIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := params
	id := uuid.New()
	next.PutNonIdentifying(i.name, id)
	logger.Debugf("JobParametersIncrementer '%s': Setting '%s' to %s.", i.name, i.name, id)
	return next
}

var _ port.JobParametersIncrementer = (*CorrelationIDIncrementer)(nil)
