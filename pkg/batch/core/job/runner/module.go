package runner

import (
	"go.uber.org/fx"
)

// Module provides the JobRunner implementation.
var Module = fx.Options(
	fx.Provide(NewSimpleJobRunner),
)
