// Package decision registers the decisions the framework provides with the JSL registry.
package decision

import (
	"go.uber.org/fx"

	flowComponent "github.com/tigerroll/batchflow/pkg/batch/component/flow"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	"github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ConditionalDecisionRef is the ref of the ConditionalDecision in JSL decision elements.
const ConditionalDecisionRef = "conditionalDecision"

// NewConditionalDecisionBuilder creates a builder for the generic ConditionalDecision.
func NewConditionalDecisionBuilder() jsl.DecisionBuilder {
	return func(id string, properties map[string]string) (port.Decision, error) {
		decision := flowComponent.NewConditionalDecision(id)
		if err := decision.SetProperties(properties); err != nil {
			return nil, err
		}
		return decision, nil
	}
}

// RegisterDecisionBuilders registers the framework's generic decision builder.
func RegisterDecisionBuilders(registry *jsl.Registry, builder jsl.DecisionBuilder) {
	registry.RegisterDecision(ConditionalDecisionRef, builder)
	logger.Debugf("Generic Decision Builder '%s' registered.", ConditionalDecisionRef)
}

// Module defines Fx options for generic decision-related components provided by the framework.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewConditionalDecisionBuilder,
		fx.ResultTags(`name:"conditionalDecision"`),
	)),
	fx.Invoke(fx.Annotate(
		RegisterDecisionBuilders,
		fx.ParamTags(``, `name:"conditionalDecision"`),
	)),
)
