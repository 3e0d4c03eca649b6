package partition

import "go.uber.org/fx"

// Module provides the default StepExecutor for partition workers.
var Module = fx.Options(
	fx.Provide(NewSimpleStepExecutor),
)
