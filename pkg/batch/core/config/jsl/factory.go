package jsl

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchflow/pkg/batch/core/job/runner"
	"github.com/tigerroll/batchflow/pkg/batch/core/job/split"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/partition"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/batchflow/pkg/batch/listener/promotion"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// JobFactory turns parsed JSL definitions into runnable jobs.
type JobFactory struct {
	registry       *Registry
	jobRepository  repository.JobRepository
	cfg            *config.Config
	stepExecutor   port.StepExecutor
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// NewJobFactory creates a JobFactory. cfg, stepExecutor, recorder and tracer may be nil.
func NewJobFactory(
	registry *Registry,
	jobRepository repository.JobRepository,
	cfg *config.Config,
	stepExecutor port.StepExecutor,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *JobFactory {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &JobFactory{
		registry:       registry,
		jobRepository:  jobRepository,
		cfg:            cfg,
		stepExecutor:   stepExecutor,
		metricRecorder: metricRecorder,
		tracer:         tracer,
	}
}

// Build creates the job described by def. Every ref is resolved now so that a missing
// component fails at startup rather than in the middle of a run.
func (f *JobFactory) Build(def *Job) (port.Job, error) {
	flow, err := f.buildFlow(def.Flow)
	if err != nil {
		return nil, exception.NewBatchError("job_factory", fmt.Sprintf("failed to build job '%s'", def.Name), err, false, false)
	}

	var listeners []port.JobExecutionListener
	for _, ref := range def.Listeners {
		b, err := f.registry.JobListener(ref.Ref)
		if err != nil {
			return nil, err
		}
		l, err := b(ref.Properties)
		if err != nil {
			return nil, fmt.Errorf("job listener '%s': %w", ref.Ref, err)
		}
		listeners = append(listeners, l)
	}

	opts := []runner.Option{runner.WithRestartable(def.IsRestartable())}
	if def.Incrementer != nil && def.Incrementer.Ref != "" {
		b, err := f.registry.Incrementer(def.Incrementer.Ref)
		if err != nil {
			return nil, err
		}
		inc, err := b(def.Incrementer.Properties)
		if err != nil {
			return nil, fmt.Errorf("incrementer '%s': %w", def.Incrementer.Ref, err)
		}
		opts = append(opts, runner.WithIncrementer(inc))
	}
	if def.Validator != nil && def.Validator.Ref != "" {
		b, err := f.registry.Validator(def.Validator.Ref)
		if err != nil {
			return nil, err
		}
		v, err := b(def.Validator.Properties)
		if err != nil {
			return nil, fmt.Errorf("validator '%s': %w", def.Validator.Ref, err)
		}
		opts = append(opts, runner.WithValidator(v))
	}

	logger.Infof("Built job '%s' (start element '%s', %d elements).", def.Name, flow.StartElement, len(flow.Elements))
	return runner.NewFlowJob(def.ID, def.Name, flow, f.jobRepository, listeners, f.metricRecorder, f.tracer, opts...), nil
}

func (f *JobFactory) buildFlow(def Flow) (*model.FlowDefinition, error) {
	flow := model.NewFlowDefinition(def.StartElement)
	var result *multierror.Error
	for _, id := range def.ElementIDs() {
		el := def.Elements[id]
		element, err := f.buildElement(id, el)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("element '%s': %w", id, err))
			continue
		}
		if err := flow.AddElement(id, element); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, t := range el.Transitions {
			flow.AddTransitionRule(id, t)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	return flow, nil
}

func (f *JobFactory) buildElement(id string, el *Element) (interface{}, error) {
	switch el.Type {
	case TypeChunk, TypeTasklet:
		return f.buildStep(id, el)
	case TypePartition:
		return f.buildPartition(id, el)
	case TypeSplit:
		flows := make([]*model.FlowDefinition, 0, len(el.Split.Flows))
		for i, fd := range el.Split.Flows {
			flow, err := f.buildFlow(fd)
			if err != nil {
				return nil, fmt.Errorf("flow %d: %w", i, err)
			}
			flows = append(flows, flow)
		}
		concurrency := el.Split.Concurrency
		if concurrency == 0 {
			concurrency = f.cfg.Batch.Job.SplitConcurrency
		}
		return split.NewConcreteSplit(id, flows, concurrency), nil
	case TypeDecision:
		b, err := f.registry.Decision(el.Decision.Ref)
		if err != nil {
			return nil, err
		}
		return b(id, el.Decision.Properties)
	default:
		return nil, fmt.Errorf("unknown element type '%s'", el.Type)
	}
}

func (f *JobFactory) buildPartition(id string, el *Element) (port.Step, error) {
	p := el.Partition
	pb, err := f.registry.Partitioner(p.Partitioner.Ref)
	if err != nil {
		return nil, err
	}
	partitioner, err := pb(p.Partitioner.Properties)
	if err != nil {
		return nil, fmt.Errorf("partitioner '%s': %w", p.Partitioner.Ref, err)
	}
	worker, err := f.buildStep(id, p.Worker)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	listeners, err := f.stepListeners(el)
	if err != nil {
		return nil, err
	}
	gridSize := p.GridSize
	if gridSize == 0 {
		gridSize = f.cfg.Batch.Job.GridSize
	}
	opts := []partition.Option{
		partition.WithConcurrency(p.Concurrency),
		partition.WithJobRepository(f.jobRepository),
		partition.WithStepListeners(listeners...),
		partition.WithAllowStartIfComplete(el.AllowStartIfComplete),
		partition.WithMetrics(f.metricRecorder, f.tracer),
	}
	if f.stepExecutor != nil {
		opts = append(opts, partition.WithStepExecutor(f.stepExecutor))
	}
	return partition.NewPartitionStep(id, partitioner, worker, gridSize, opts...), nil
}

func (f *JobFactory) buildStep(id string, el *Element) (port.Step, error) {
	listeners, err := f.stepListeners(el)
	if err != nil {
		return nil, err
	}
	txManager := f.transactionManager(el)
	isolation := el.IsolationLevel
	if isolation == "" {
		isolation = f.cfg.Batch.Job.IsolationLevel
	}

	if el.Type == TypeTasklet {
		tb, err := f.registry.Tasklet(el.Tasklet.Ref)
		if err != nil {
			return nil, err
		}
		props := el.Tasklet.Properties
		provider := func(ctx context.Context, scope port.StepScope) (port.Tasklet, error) {
			return tb(ctx, scope, props)
		}
		return tasklet.NewTaskletStep(id, provider,
			tasklet.WithJobRepository(f.jobRepository),
			tasklet.WithStepListeners(listeners...),
			tasklet.WithTransactionManager(txManager),
			tasklet.WithIsolationLevel(isolation),
			tasklet.WithAllowStartIfComplete(el.AllowStartIfComplete),
			tasklet.WithMetrics(f.metricRecorder, f.tracer),
		), nil
	}
	if el.Type != TypeChunk {
		return nil, fmt.Errorf("element type '%s' cannot run as a step", el.Type)
	}

	provider, err := f.chunkProvider(el)
	if err != nil {
		return nil, err
	}
	chunk := Chunk{}
	if el.Chunk != nil {
		chunk = *el.Chunk
	}
	if chunk.ItemCount == 0 {
		chunk.ItemCount = f.cfg.Batch.Job.ChunkSize
	}
	if chunk.SkipLimit == 0 {
		chunk.SkipLimit = f.cfg.Batch.Job.ItemSkip.SkipLimit
	}
	if len(chunk.SkippableExceptions) == 0 {
		chunk.SkippableExceptions = f.cfg.Batch.Job.ItemSkip.SkippableExceptions
	}

	chunkListeners, err := resolveAll(el.ChunkListeners, f.registry.ChunkListener)
	if err != nil {
		return nil, err
	}
	skipListeners, err := resolveAll(el.SkipListeners, f.registry.SkipListener)
	if err != nil {
		return nil, err
	}

	return item.NewChunkStep(id, provider, chunk.ItemCount,
		item.WithSkipPolicy(skip.NewDefaultSkipPolicyFactory().Create(chunk.SkipLimit, chunk.SkippableExceptions)),
		item.WithItemCountLimit(chunk.ItemCountLimit),
		item.WithTransactionManager(txManager),
		item.WithIsolationLevel(isolation),
		item.WithJobRepository(f.jobRepository),
		item.WithStepListeners(listeners...),
		item.WithChunkListeners(chunkListeners...),
		item.WithSkipListeners(skipListeners...),
		item.WithAllowStartIfComplete(el.AllowStartIfComplete),
		item.WithMetrics(f.metricRecorder, f.tracer),
	), nil
}

// chunkProvider resolves the builders now and invokes them once per step execution.
func (f *JobFactory) chunkProvider(el *Element) (port.ChunkComponentsProvider, error) {
	rb, err := f.registry.Reader(el.Reader.Ref)
	if err != nil {
		return nil, err
	}
	wb, err := f.registry.Writer(el.Writer.Ref)
	if err != nil {
		return nil, err
	}
	var pb ProcessorBuilder
	if el.Processor != nil && el.Processor.Ref != "" {
		if pb, err = f.registry.Processor(el.Processor.Ref); err != nil {
			return nil, err
		}
	}
	reader, writer, processor := *el.Reader, *el.Writer, el.Processor

	return func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
		var comps port.ChunkComponents
		r, err := rb(ctx, scope, reader.Properties)
		if err != nil {
			return comps, fmt.Errorf("reader '%s': %w", reader.Ref, err)
		}
		w, err := wb(ctx, scope, writer.Properties)
		if err != nil {
			return comps, fmt.Errorf("writer '%s': %w", writer.Ref, err)
		}
		comps.Reader, comps.Writer = r, w
		if pb != nil {
			p, err := pb(ctx, scope, processor.Properties)
			if err != nil {
				return comps, fmt.Errorf("processor '%s': %w", processor.Ref, err)
			}
			comps.Processor = p
		}
		return comps, nil
	}, nil
}

// stepListeners returns the promotion listener, when configured, followed by the declared
// listeners. AfterStep results are applied in that order, so a declared listener has the
// last word on the exit status.
func (f *JobFactory) stepListeners(el *Element) ([]port.StepExecutionListener, error) {
	var listeners []port.StepExecutionListener
	if el.Promotion != nil && len(el.Promotion.Keys) > 0 {
		listeners = append(listeners, promotion.NewExecutionContextPromotionListener(*el.Promotion))
	}
	declared, err := resolveAll(el.Listeners, f.registry.StepListener)
	if err != nil {
		return nil, err
	}
	return append(listeners, declared...), nil
}

func (f *JobFactory) transactionManager(el *Element) tx.TransactionManager {
	name := el.TransactionManager
	if name == "" {
		name = f.cfg.Batch.Job.TransactionManagerRef
	}
	if m, ok := f.registry.TransactionManager(name); ok {
		return m
	}
	if el.TransactionManager != "" {
		logger.Warnf("Transaction manager '%s' is not registered; steps run without transactions.", name)
	}
	return tx.NewNoOpTransactionManager()
}

func resolveAll[T any, B ~func(map[string]string) (T, error)](refs []ComponentRef, lookup func(string) (B, error)) ([]T, error) {
	out := make([]T, 0, len(refs))
	for _, ref := range refs {
		b, err := lookup(ref.Ref)
		if err != nil {
			return nil, err
		}
		v, err := b(ref.Properties)
		if err != nil {
			return nil, fmt.Errorf("'%s': %w", ref.Ref, err)
		}
		out = append(out, v)
	}
	return out, nil
}
