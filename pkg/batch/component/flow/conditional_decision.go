// Package flow provides decisions for job flows.
package flow

import (
	"context"
	"fmt"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ConditionalDecisionProperties are the JSL properties of a ConditionalDecision.
type ConditionalDecisionProperties struct {
	// ConditionKey is a dot-separated path into the shared job context.
	ConditionKey  string `yaml:"conditionKey"`
	ExpectedValue string `yaml:"expectedValue"`
	MatchStatus   string `yaml:"matchStatus"`
	DefaultStatus string `yaml:"defaultStatus"`
	// ExitStatus is returned as is when no ConditionKey is configured.
	ExitStatus string `yaml:"exitStatus"`
}

// ConditionalDecision compares a value of the shared job context with an expected value.
// A match returns MatchStatus (COMPLETED by default), anything else DefaultStatus
// (FAILED by default).
type ConditionalDecision struct {
	id    string
	props ConditionalDecisionProperties
}

// NewConditionalDecision creates a new instance of ConditionalDecision.
func NewConditionalDecision(id string) *ConditionalDecision {
	return &ConditionalDecision{
		id: id,
		props: ConditionalDecisionProperties{
			MatchStatus:   string(model.ExitStatusCompleted),
			DefaultStatus: string(model.ExitStatusFailed),
		},
	}
}

// SetProperties sets the properties injected from JSL.
func (d *ConditionalDecision) SetProperties(properties map[string]string) error {
	if err := configbinder.BindStringProperties(properties, &d.props); err != nil {
		return fmt.Errorf("decision '%s': %w", d.id, err)
	}
	logger.Debugf("ConditionalDecision '%s': Properties set. conditionKey='%s', expectedValue='%s', defaultStatus='%s'",
		d.id, d.props.ConditionKey, d.props.ExpectedValue, d.props.DefaultStatus)
	return nil
}

// Decide determines the ExitStatus based on the value in the shared job context.
func (d *ConditionalDecision) Decide(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) (model.ExitStatus, error) {
	if d.props.ConditionKey == "" {
		if d.props.ExitStatus != "" {
			logger.Debugf("Decision '%s' determined exit status '%s' from static property.", d.id, d.props.ExitStatus)
			return model.ExitStatus(d.props.ExitStatus), nil
		}
		logger.Warnf("ConditionalDecision '%s': conditionKey is not set. Returning default status '%s'.", d.id, d.props.DefaultStatus)
		return model.ExitStatus(d.props.DefaultStatus), nil
	}
	if jobExecution == nil {
		return model.ExitStatusFailed, fmt.Errorf("decision '%s' requires a job execution", d.id)
	}

	actual, ok := jobExecution.ContextSnapshot().GetNested(d.props.ConditionKey)
	if !ok {
		logger.Warnf("ConditionalDecision '%s': Key '%s' not found in the job context. Returning default status '%s'.", d.id, d.props.ConditionKey, d.props.DefaultStatus)
		return model.ExitStatus(d.props.DefaultStatus), nil
	}

	// Context values are compared in their string form.
	actualStr := fmt.Sprintf("%v", actual)
	if actualStr == d.props.ExpectedValue {
		logger.Infof("ConditionalDecision '%s': Condition matched ('%s' == '%s').", d.id, actualStr, d.props.ExpectedValue)
		return model.ExitStatus(d.props.MatchStatus), nil
	}
	logger.Infof("ConditionalDecision '%s': Condition did not match ('%s' != '%s'). Returning default status '%s'.", d.id, actualStr, d.props.ExpectedValue, d.props.DefaultStatus)
	return model.ExitStatus(d.props.DefaultStatus), nil
}

// ID returns the ID of the Decision.
func (d *ConditionalDecision) ID() string {
	return d.id
}

var _ port.Decision = (*ConditionalDecision)(nil)
