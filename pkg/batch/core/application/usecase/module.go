package usecase

import (
	"context"

	"go.uber.org/fx"
)

// Module is the Fx module for the JobRegistry, JobLauncher, JobOperator, and JobExplorer.
var Module = fx.Options(
	fx.Provide(NewJobRegistry),
	fx.Provide(NewSimpleJobLauncher),
	fx.Provide(func(launcher *SimpleJobLauncher) JobLauncher { return launcher }),
	fx.Provide(fx.Annotate(
		NewSimpleJobOperator,
		fx.As(new(JobOperator)),
	)),
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),
	// Running executions are stopped when the application stops.
	fx.Invoke(func(lc fx.Lifecycle, launcher *SimpleJobLauncher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return launcher.Shutdown(ctx)
			},
		})
	}),
)
