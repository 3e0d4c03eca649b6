package main

import (
	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/example/transactions/internal/migrations"
	"github.com/tigerroll/batchflow/example/transactions/internal/step/processor"
	"github.com/tigerroll/batchflow/example/transactions/internal/step/reader"
	"github.com/tigerroll/batchflow/example/transactions/internal/step/writer"
	"github.com/tigerroll/batchflow/pkg/batch/core/config/bootstrap"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

// JobName is the name of the job in resources/job.yaml.
const JobName = "transactionsJob"

// GetApplicationOptions returns the Fx options of the application.
func GetApplicationOptions(envFilePath string) []fx.Option {
	return []fx.Option{
		bootstrap.Configuration(embeddedConfig, envFilePath),
		bootstrap.Source(embeddedJSL),
		bootstrap.Module,
		migrations.Module,
		reader.Module,
		processor.Module,
		writer.Module,
		bootstrap.RunJob(JobName, model.NewJobParameters),
	}
}
