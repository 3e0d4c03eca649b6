package jsl

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	"github.com/tigerroll/batchflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// FactoryParams are the dependencies of the JobFactory.
type FactoryParams struct {
	fx.In
	Registry       *Registry
	JobRepository  repository.JobRepository
	Config         *config.Config         `optional:"true"`
	StepExecutor   port.StepExecutor      `optional:"true"`
	MetricRecorder metrics.MetricRecorder `optional:"true"`
	Tracer         metrics.Tracer         `optional:"true"`
}

// NewJobFactoryFromParams creates the JobFactory from fx dependencies.
func NewJobFactoryFromParams(p FactoryParams) *JobFactory {
	return NewJobFactory(p.Registry, p.JobRepository, p.Config, p.StepExecutor, p.MetricRecorder, p.Tracer)
}

// LoaderParams are the dependencies of LoadJobs.
type LoaderParams struct {
	fx.In
	Lifecycle   fx.Lifecycle
	Factory     *JobFactory
	JobRegistry *usecase.JobRegistry
	Definitions []JSLDefinitionBytes `group:"jsl"`
}

// LoadJobs parses every JSL document of the "jsl" group, builds the jobs and registers
// them. It runs as a start hook so that all component builders are registered first;
// a document that cannot be built aborts the application start.
func LoadJobs(p LoaderParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return BuildAndRegister(p.Factory, p.JobRegistry, p.Definitions)
		},
	})
}

// BuildAndRegister parses defs, builds each job and adds it to jobRegistry.
func BuildAndRegister(factory *JobFactory, jobRegistry *usecase.JobRegistry, defs []JSLDefinitionBytes) error {
	jobs, err := ParseAll(defs)
	if err != nil {
		return err
	}
	for _, def := range jobs {
		job, err := factory.Build(def)
		if err != nil {
			return err
		}
		if err := jobRegistry.Register(job); err != nil {
			return err
		}
		logger.Infof("JSL job '%s' loaded (%d elements).", def.Name, len(def.Flow.Elements))
	}
	return nil
}

// Module provides the component Registry and the JobFactory and loads the JSL jobs.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Provide(NewJobFactoryFromParams),
	fx.Invoke(LoadJobs),
)
