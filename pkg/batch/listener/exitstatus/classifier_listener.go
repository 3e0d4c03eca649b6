// Package exitstatus turns step context values into business exit statuses.
package exitstatus

import (
	"context"
	"fmt"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ClassifierProperties configures a ContextClassifierListener.
type ClassifierProperties struct {
	// Key is the numeric step context value to classify.
	Key string `yaml:"key"`
	// Positive is returned when the value is above Threshold.
	Positive string `yaml:"positive"`
	// Negative is returned otherwise.
	Negative string `yaml:"negative"`
	// Missing is returned when the key is absent; empty leaves the exit status unchanged.
	Missing   string  `yaml:"missing"`
	Threshold float64 `yaml:"threshold"`
	// RemoveKey deletes the value from the step context once classified.
	RemoveKey bool `yaml:"remove-key"`
}

// ContextClassifierListener derives the exit status of a completed step from one value of
// its context.
type ContextClassifierListener struct {
	props ClassifierProperties
}

var _ port.StepExecutionListener = (*ContextClassifierListener)(nil)

// NewContextClassifierListener creates a listener, filling POSITIVE and NEGATIVE defaults.
func NewContextClassifierListener(props ClassifierProperties) (*ContextClassifierListener, error) {
	if props.Key == "" {
		return nil, fmt.Errorf("context classifier: key is required")
	}
	if props.Positive == "" {
		props.Positive = "POSITIVE"
	}
	if props.Negative == "" {
		props.Negative = "NEGATIVE"
	}
	return &ContextClassifierListener{props: props}, nil
}

// NewContextClassifierListenerFromProperties binds string properties, e.g. from a job definition.
func NewContextClassifierListenerFromProperties(properties map[string]string) (*ContextClassifierListener, error) {
	var props ClassifierProperties
	if err := configbinder.BindStringProperties(properties, &props); err != nil {
		return nil, fmt.Errorf("context classifier: %w", err)
	}
	return NewContextClassifierListener(props)
}

func (l *ContextClassifierListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {}

// AfterStep classifies completed steps only; a failed or stopped step keeps its exit status.
func (l *ContextClassifierListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) model.ExitStatus {
	if stepExecution.Status != model.BatchStatusCompleted {
		return ""
	}
	value, ok := stepExecution.ExecutionContext.GetFloat64(l.props.Key)
	if !ok {
		return model.ExitStatus(l.props.Missing)
	}
	if l.props.RemoveKey {
		stepExecution.ExecutionContext.Remove(l.props.Key)
	}
	exit := l.props.Negative
	if value > l.props.Threshold {
		exit = l.props.Positive
	}
	logger.Debugf("Step '%s': %s=%v classified as %s.", stepExecution.StepName, l.props.Key, value, exit)
	return model.ExitStatus(exit)
}
