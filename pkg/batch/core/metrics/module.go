package metrics

import (
	"go.uber.org/fx"
)

// NoOpModule provides the no-op recorder and tracer. Applications that enable metrics use
// infrastructure/metrics.Module instead.
var NoOpModule = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
