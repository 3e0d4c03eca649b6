package incrementer

import (
	"fmt"
	"time"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// TimestampIncrementer sets an identifying DATE parameter, "timestamp" by default, to the
// current time so that every launch makes a new job instance.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer creates a new instance of TimestampIncrementer.
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	return &TimestampIncrementer{name: name, now: time.Now}
}

// GetNext returns a copy of params with the timestamp set to now.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := params
	ts := i.now().UTC()
	next.Put(i.name, ts)
	logger.Debugf("JobParametersIncrementer '%s': Setting '%s' to %s.", i.name, i.name, ts.Format(time.RFC3339Nano))
	return next
}

// String returns the string representation of TimestampIncrementer.
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)
