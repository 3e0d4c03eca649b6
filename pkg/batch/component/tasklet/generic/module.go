package generic

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
)

// JSL refs of the generic tasklets. ParquetExportTasklet is typed by its row, so
// applications register it themselves.
const (
	ExecutionContextWriterTaskletRef = "executionContextWriterTasklet"
	FailTaskletRef                   = "failTasklet"
)

// RegisterBuilders registers the generic tasklets.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterTasklet(ExecutionContextWriterTaskletRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.Tasklet, error) {
		return NewExecutionContextWriterTasklet(scope.StepName, properties), nil
	})
	registry.RegisterTasklet(FailTaskletRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.Tasklet, error) {
		return NewFailTasklet(scope.StepName, properties)
	})
}

var Module = fx.Invoke(RegisterBuilders)
