package exitstatus

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
)

// ContextClassifierRef is the listener name referenced in job definitions.
const ContextClassifierRef = "contextClassifier"

// RegisterBuilders registers the context classifier as a step listener.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterStepListener(ContextClassifierRef, func(properties map[string]string) (port.StepExecutionListener, error) {
		return NewContextClassifierListenerFromProperties(properties)
	})
}

// Module registers the exit status listeners.
var Module = fx.Invoke(RegisterBuilders)
