package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// NewLoggingJobListenerBuilder creates a builder for LoggingJobListener.
func NewLoggingJobListenerBuilder() jsl.JobListenerBuilder {
	return func(map[string]string) (port.JobExecutionListener, error) {
		return NewLoggingJobListener(), nil
	}
}

// NewLoggingStepListenerBuilder creates a builder for LoggingStepListener.
func NewLoggingStepListenerBuilder() jsl.StepListenerBuilder {
	return func(map[string]string) (port.StepExecutionListener, error) {
		return NewLoggingStepListener(), nil
	}
}

// NewLoggingChunkListenerBuilder creates a builder for LoggingChunkListener.
func NewLoggingChunkListenerBuilder() jsl.ChunkListenerBuilder {
	return func(map[string]string) (port.ChunkListener, error) {
		return NewLoggingChunkListener(), nil
	}
}

// NewLoggingSkipListenerBuilder creates a builder for LoggingSkipListener.
func NewLoggingSkipListenerBuilder() jsl.SkipListenerBuilder {
	return func(map[string]string) (port.SkipListener, error) {
		return NewLoggingSkipListener(), nil
	}
}

// AllListenerBuilders is a struct to receive all listener builders from Fx.
type AllListenerBuilders struct {
	fx.In
	JobListenerBuilder   jsl.JobListenerBuilder   `name:"loggingJobListener"`
	StepListenerBuilder  jsl.StepListenerBuilder  `name:"loggingStepListener"`
	ChunkListenerBuilder jsl.ChunkListenerBuilder `name:"loggingChunkListener"`
	SkipListenerBuilder  jsl.SkipListenerBuilder  `name:"loggingSkipListener"`
}

// RegisterAllListeners registers all logging listener builders with the JSL registry.
func RegisterAllListeners(registry *jsl.Registry, builders AllListenerBuilders) {
	registry.RegisterJobListener("loggingJobListener", builders.JobListenerBuilder)
	registry.RegisterStepListener("loggingStepListener", builders.StepListenerBuilder)
	registry.RegisterChunkListener("loggingChunkListener", builders.ChunkListenerBuilder)
	registry.RegisterSkipListener("loggingSkipListener", builders.SkipListenerBuilder)
	logger.Debugf("All logging listeners registered.")
}

// Module aggregates all listener components provided by this package.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewLoggingJobListenerBuilder, fx.ResultTags(`name:"loggingJobListener"`))),
	fx.Provide(fx.Annotate(NewLoggingStepListenerBuilder, fx.ResultTags(`name:"loggingStepListener"`))),
	fx.Provide(fx.Annotate(NewLoggingChunkListenerBuilder, fx.ResultTags(`name:"loggingChunkListener"`))),
	fx.Provide(fx.Annotate(NewLoggingSkipListenerBuilder, fx.ResultTags(`name:"loggingSkipListener"`))),
	fx.Invoke(RegisterAllListeners),
)
