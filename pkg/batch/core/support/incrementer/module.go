package incrementer

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// JSL refs of the incrementers.
const (
	RunIDIncrementerRef         = "runIdIncrementer"
	TimestampIncrementerRef     = "timestampIncrementer"
	CorrelationIDIncrementerRef = "correlationIdIncrementer"
)

func nameProperty(kind string, properties map[string]string, def string) string {
	name := properties["name"]
	if name == "" {
		name = def
		logger.Debugf("%s: Property 'name' is not specified, using default value '%s'.", kind, name)
	}
	return name
}

// NewRunIDIncrementerComponentBuilder provides a jsl.IncrementerBuilder for RunIDIncrementer.
func NewRunIDIncrementerComponentBuilder() jsl.IncrementerBuilder {
	return func(properties map[string]string) (port.JobParametersIncrementer, error) {
		return NewRunIDIncrementer(nameProperty("RunIDIncrementer", properties, "run.id")), nil
	}
}

// NewTimestampIncrementerComponentBuilder provides a jsl.IncrementerBuilder for TimestampIncrementer.
func NewTimestampIncrementerComponentBuilder() jsl.IncrementerBuilder {
	return func(properties map[string]string) (port.JobParametersIncrementer, error) {
		return NewTimestampIncrementer(nameProperty("TimestampIncrementer", properties, "timestamp")), nil
	}
}

// NewCorrelationIDIncrementerComponentBuilder provides a jsl.IncrementerBuilder for CorrelationIDIncrementer.
func NewCorrelationIDIncrementerComponentBuilder() jsl.IncrementerBuilder {
	return func(properties map[string]string) (port.JobParametersIncrementer, error) {
		return NewCorrelationIDIncrementer(nameProperty("CorrelationIDIncrementer", properties, "correlationId")), nil
	}
}

// RegisterBuilders registers the incrementer builders with the JSL registry.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterIncrementer(RunIDIncrementerRef, NewRunIDIncrementerComponentBuilder())
	registry.RegisterIncrementer(TimestampIncrementerRef, NewTimestampIncrementerComponentBuilder())
	registry.RegisterIncrementer(CorrelationIDIncrementerRef, NewCorrelationIDIncrementerComponentBuilder())
}

// Module is the Fx module for the Incrementer package.
var Module = fx.Options(
	fx.Invoke(RegisterBuilders),
)
