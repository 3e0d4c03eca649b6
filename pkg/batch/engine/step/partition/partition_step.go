// Package partition implements the partitioned step: one step definition fanned out over
// independent partitions that run concurrently on a bounded number of workers.
package partition

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	step "github.com/tigerroll/batchflow/pkg/batch/engine/step"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// PartitionStep is the controller of a partitioned step. Each partition runs the worker
// step against its own StepExecution named "<step>:<partition>".
type PartitionStep struct {
	id                   string
	partitioner          port.Partitioner
	workerStep           port.Step
	gridSize             int
	concurrency          int
	jobRepository        repository.JobRepository
	stepListeners        []port.StepExecutionListener
	stepExecutor         port.StepExecutor
	allowStartIfComplete bool

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*PartitionStep)(nil)

// Option configures a PartitionStep.
type Option func(*PartitionStep)

// WithConcurrency bounds the number of partitions running at once. Values below 1 mean gridSize.
func WithConcurrency(n int) Option {
	return func(s *PartitionStep) { s.concurrency = n }
}

func WithJobRepository(r repository.JobRepository) Option {
	return func(s *PartitionStep) { s.jobRepository = r }
}

func WithStepListeners(l ...port.StepExecutionListener) Option {
	return func(s *PartitionStep) { s.stepListeners = append(s.stepListeners, l...) }
}

// WithStepExecutor replaces the executor running the workers.
func WithStepExecutor(e port.StepExecutor) Option {
	return func(s *PartitionStep) { s.stepExecutor = e }
}

func WithAllowStartIfComplete(allow bool) Option {
	return func(s *PartitionStep) { s.allowStartIfComplete = allow }
}

func WithMetrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) Option {
	return func(s *PartitionStep) {
		s.metricRecorder = recorder
		s.tracer = tracer
	}
}

// NewPartitionStep creates a new PartitionStep instance.
func NewPartitionStep(id string, partitioner port.Partitioner, workerStep port.Step, gridSize int, opts ...Option) *PartitionStep {
	s := &PartitionStep{
		id:             id,
		partitioner:    partitioner,
		workerStep:     workerStep,
		gridSize:       gridSize,
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = gridSize
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.stepExecutor == nil {
		s.stepExecutor = NewSimpleStepExecutor(s.jobRepository)
	}
	return s
}

func (s *PartitionStep) ID() string { return s.id }

func (s *PartitionStep) StepName() string { return s.id }

// IsAllowStartIfComplete implements port.Step.
func (s *PartitionStep) IsAllowStartIfComplete() bool { return s.allowStartIfComplete }

// SetMetricRecorder replaces the metric recorder.
func (s *PartitionStep) SetMetricRecorder(recorder metrics.MetricRecorder) { s.metricRecorder = recorder }

// SetTracer replaces the tracer.
func (s *PartitionStep) SetTracer(tracer metrics.Tracer) { s.tracer = tracer }

// WorkerName returns the StepExecution name of a partition.
func WorkerName(stepName, partitionKey string) string {
	return fmt.Sprintf("%s:%s", stepName, partitionKey)
}

// Execute runs the partitioning logic.
func (s *PartitionStep) Execute(ctx context.Context, jobExecution *model.JobExecution, controller *model.StepExecution) error {
	lc := step.NewLifecycle(s.id, s.jobRepository, s.stepListeners, s.metricRecorder, s.tracer)
	spanCtx, end, err := lc.Start(ctx, controller)
	if err != nil {
		return lc.Finish(ctx, controller, err)
	}
	defer end()

	logger.Infof("PartitionStep '%s' executing (grid size %d, concurrency %d).", s.id, s.gridSize, s.concurrency)
	started := time.Now()
	runErr := s.execute(spanCtx, jobExecution, controller)
	s.metricRecorder.RecordDuration(spanCtx, "partition_duration", time.Since(started), map[string]string{"step_name": s.id})
	return lc.Finish(spanCtx, controller, runErr)
}

func (s *PartitionStep) execute(ctx context.Context, jobExecution *model.JobExecution, controller *model.StepExecution) error {
	workers, err := s.prepareWorkers(ctx, jobExecution)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		failures *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, w := range workers {
		w := w
		if w.execution.Status == model.BatchStatusCompleted && !s.workerStep.IsAllowStartIfComplete() {
			logger.Infof("PartitionStep '%s': partition '%s' already completed, skipping.", s.id, w.key)
			continue
		}
		g.Go(func() error {
			_, execErr := s.stepExecutor.ExecuteStep(ctx, s.workerStep, jobExecution, w.execution)
			if execErr == nil && w.execution.Status == model.BatchStatusFailed {
				execErr = fmt.Errorf("partition ended with status %s", w.execution.Status)
			}
			if execErr == nil {
				return nil
			}
			logger.Errorf("PartitionStep '%s': partition '%s' failed: %v", s.id, w.key, execErr)
			pe := &exception.PartitionError{StepName: s.id, PartitionName: w.key, Cause: execErr}
			mu.Lock()
			failures = multierror.Append(failures, pe)
			mu.Unlock()
			return pe
		})
	}
	// Wait returns the first failure; siblings are never cancelled.
	firstErr := g.Wait()

	s.aggregate(controller, workers)
	if failures != nil {
		for _, f := range failures.Errors {
			controller.AddFailureException(f)
		}
		logger.Errorf("PartitionStep '%s': %d of %d partitions failed.", s.id, len(failures.Errors), len(workers))
		return firstErr
	}

	for _, w := range workers {
		if w.execution.Status == model.BatchStatusStopped {
			if err := ctx.Err(); err != nil {
				return err
			}
			return exception.NewBatchErrorf(s.id, "partition '%s' stopped", w.key)
		}
	}
	return nil
}

type worker struct {
	key       string
	execution *model.StepExecution
}

// prepareWorkers creates the partition step executions, or reuses those carried over from
// the previous execution on restart.
func (s *PartitionStep) prepareWorkers(ctx context.Context, jobExecution *model.JobExecution) ([]worker, error) {
	contexts, err := s.partitioner.Partition(ctx, s.gridSize)
	if err != nil {
		return nil, exception.NewBatchError(s.id, "partitioner failed", err, false, false)
	}
	keys := make([]string, 0, len(contexts))
	for k := range contexts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	workers := make([]worker, 0, len(keys))
	for i, key := range keys {
		name := WorkerName(s.id, key)

		if jobExecution != nil {
			if existing, ok := jobExecution.FindStepExecution(name); ok {
				if existing.Status == model.BatchStatusStarted {
					// Left running by a crashed run: nothing executes it any more.
					s.abandon(ctx, existing)
				}
				if existing.Status.IsFinished() && existing.Status != model.BatchStatusCompleted {
					// A finished, unsuccessful worker of this execution cannot run again in place.
					existing = s.rerun(existing, jobExecution)
					if err := s.save(ctx, existing); err != nil {
						return nil, err
					}
				}
				workers = append(workers, worker{key: key, execution: existing})
				continue
			}
		}

		ec := contexts[key].Copy()
		ec.Put(model.PartitionIndexKey, i)
		ec.Put(model.PartitionCountKey, len(keys))
		ec.Put(model.PartitionKeyKey, key)

		se := model.NewStepExecution(model.NewID(), jobExecution, name)
		se.ExecutionContext = ec
		if jobExecution != nil {
			jobExecution.AddStepExecution(se)
		}
		if err := s.save(ctx, se); err != nil {
			return nil, err
		}
		workers = append(workers, worker{key: key, execution: se})
	}
	logger.Infof("PartitionStep '%s': %d partitions prepared.", s.id, len(workers))
	return workers, nil
}

func (s *PartitionStep) rerun(previous *model.StepExecution, jobExecution *model.JobExecution) *model.StepExecution {
	next := previous.CopyForRestart(jobExecution.ID)
	jobExecution.AddStepExecution(next)
	return next
}

func (s *PartitionStep) abandon(ctx context.Context, se *model.StepExecution) {
	logger.Warnf("PartitionStep '%s': worker '%s' was left %s, abandoning it.", s.id, se.StepName, se.Status)
	if err := se.TransitionTo(model.BatchStatusAbandoned); err != nil {
		logger.Errorf("PartitionStep '%s': %v", s.id, err)
		return
	}
	se.ExitStatus = model.ExitStatusAbandoned
	if s.jobRepository != nil {
		if err := s.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), se); err != nil {
			logger.Errorf("PartitionStep '%s': failed to update abandoned worker '%s': %v", s.id, se.StepName, err)
		}
	}
}

func (s *PartitionStep) save(ctx context.Context, se *model.StepExecution) error {
	if s.jobRepository == nil {
		return nil
	}
	if err := s.jobRepository.SaveStepExecution(ctx, se); err != nil {
		return exception.NewBatchError(s.id, fmt.Sprintf("failed to save partition StepExecution '%s'", se.StepName), err, false, false)
	}
	return nil
}

// aggregate sums the worker counts into the controller. Partition contexts are never merged.
func (s *PartitionStep) aggregate(controller *model.StepExecution, workers []worker) {
	controller.ReadCount, controller.WriteCount, controller.ProcessCount = 0, 0, 0
	controller.FilterCount, controller.CommitCount, controller.RollbackCount = 0, 0, 0
	controller.SkipReadCount, controller.SkipProcessCount, controller.SkipWriteCount = 0, 0, 0
	for _, w := range workers {
		we := w.execution
		controller.ReadCount += we.ReadCount
		controller.WriteCount += we.WriteCount
		controller.ProcessCount += we.ProcessCount
		controller.FilterCount += we.FilterCount
		controller.CommitCount += we.CommitCount
		controller.RollbackCount += we.RollbackCount
		controller.SkipReadCount += we.SkipReadCount
		controller.SkipProcessCount += we.SkipProcessCount
		controller.SkipWriteCount += we.SkipWriteCount
	}
}
