package item

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
)

// JSL refs of the generic item components.
const (
	PassThroughProcessorRef       = "passThroughProcessor"
	NoOpWriterRef                 = "noOpWriter"
	ExecutionContextItemWriterRef = "executionContextItemWriter"
)

// RegisterBuilders registers the generic processors and writers.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterProcessor(PassThroughProcessorRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemProcessor, error) {
		return NewPassThroughItemProcessor(), nil
	})
	registry.RegisterWriter(NoOpWriterRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemWriter, error) {
		return NewNoOpItemWriter(), nil
	})
	registry.RegisterWriter(ExecutionContextItemWriterRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemWriter, error) {
		return NewExecutionContextItemWriter(properties["key"]), nil
	})
}

// Module registers the generic item components with the JSL registry.
var Module = fx.Invoke(RegisterBuilders)
