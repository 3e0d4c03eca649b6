package bootstrap_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/batchflow/pkg/batch/core/config/bootstrap"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

func TestExitCodeOf(t *testing.T) {
	execution := func(status model.JobStatus) *model.JobExecution {
		je := model.NewJobExecution("instance-1", "job", model.NewJobParameters())
		je.Status = status
		return je
	}

	assert.Equal(t, bootstrap.ExitCodeCompleted, bootstrap.ExitCodeOf(execution(model.BatchStatusCompleted), nil))
	assert.Equal(t, bootstrap.ExitCodeStopped, bootstrap.ExitCodeOf(execution(model.BatchStatusStopped), nil))
	assert.Equal(t, bootstrap.ExitCodeFailed, bootstrap.ExitCodeOf(execution(model.BatchStatusFailed), nil))
	assert.Equal(t, bootstrap.ExitCodeFailed, bootstrap.ExitCodeOf(execution(model.BatchStatusAbandoned), nil))
	assert.Equal(t, bootstrap.ExitCodeFailed, bootstrap.ExitCodeOf(nil, errors.New("unknown job")))
}
