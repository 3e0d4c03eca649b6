package bootstrap

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// Exit codes of an application run by RunJob.
const (
	ExitCodeCompleted = 0
	ExitCodeFailed    = 1
	ExitCodeStopped   = 2
)

// ExitCodeOf maps the outcome of a job run to a process exit code.
func ExitCodeOf(je *model.JobExecution, err error) int {
	if err != nil || je == nil {
		return ExitCodeFailed
	}
	switch je.GetStatus() {
	case model.BatchStatusCompleted:
		return ExitCodeCompleted
	case model.BatchStatusStopped:
		return ExitCodeStopped
	default:
		return ExitCodeFailed
	}
}

// Source contributes a JSL document to the "jsl" group.
func Source(definition []byte) fx.Option {
	return fx.Supply(fx.Annotate(jsl.JSLDefinitionBytes(definition), fx.ResultTags(`group:"jsl"`)))
}

// Configuration supplies the embedded configuration document and the .env path.
func Configuration(document []byte, envFilePath string) fx.Option {
	return fx.Supply(
		config.EmbeddedConfig(document),
		fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
	)
}

// RunJob launches jobName once the application has started and shuts the application
// down with the exit code of the run. Stopping the application stops the job.
func RunJob(jobName string, params func() model.JobParameters) fx.Option {
	return fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, launcher usecase.JobLauncher) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					je, err := launcher.Run(ctx, jobName, params())
					if err != nil {
						logger.Errorf("Job '%s' could not run: %v", jobName, err)
					} else {
						logger.Infof("Job '%s' (execution %s) finished with status %s, exit status %s.",
							jobName, je.ID, je.GetStatus(), je.ExitStatus)
					}
					if err := shutdowner.Shutdown(fx.ExitCode(ExitCodeOf(je, err))); err != nil {
						logger.Errorf("Failed to shut down the application: %v", err)
					}
				}()
				return nil
			},
			OnStop: func(stopCtx context.Context) error {
				cancel()
				select {
				case <-done:
				case <-stopCtx.Done():
					logger.Warnf("Job '%s' did not stop before the shutdown deadline.", jobName)
				}
				return nil
			},
		})
	})
}
