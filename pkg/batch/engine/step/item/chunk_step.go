// Package item implements the chunk oriented step: items are read one at a time,
// processed, and written in chunk sized batches, each batch being one transaction.
package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	step "github.com/tigerroll/batchflow/pkg/batch/engine/step"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ChunkStep is an implementation of port.Step for chunk-oriented processing.
type ChunkStep struct {
	id                   string
	provider             port.ChunkComponentsProvider
	chunkSize            int
	itemCountLimit       int
	skipPolicy           skip.SkipPolicy
	txManager            tx.TransactionManager
	isolationLevel       sql.IsolationLevel
	jobRepository        repository.JobRepository
	stepListeners        []port.StepExecutionListener
	chunkListeners       []port.ChunkListener
	skipListeners        []port.SkipListener
	allowStartIfComplete bool

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*ChunkStep)(nil)

// Option configures a ChunkStep.
type Option func(*ChunkStep)

// WithSkipPolicy enables fault tolerance.
func WithSkipPolicy(p skip.SkipPolicy) Option {
	return func(s *ChunkStep) { s.skipPolicy = p }
}

// WithTransactionManager sets the manager that opens one transaction per chunk.
func WithTransactionManager(m tx.TransactionManager) Option {
	return func(s *ChunkStep) { s.txManager = m }
}

// WithIsolationLevel sets the isolation level of chunk transactions (e.g. "READ_COMMITTED").
func WithIsolationLevel(level string) Option {
	return func(s *ChunkStep) { s.isolationLevel = tx.ParseIsolationLevel(level) }
}

// WithJobRepository sets the repository the step execution is persisted to at every commit.
func WithJobRepository(r repository.JobRepository) Option {
	return func(s *ChunkStep) { s.jobRepository = r }
}

// WithItemCountLimit stops reading once the step execution has read n items. 0 means no limit.
func WithItemCountLimit(n int) Option {
	return func(s *ChunkStep) { s.itemCountLimit = n }
}

// WithStepListeners adds step execution listeners, notified in order.
func WithStepListeners(l ...port.StepExecutionListener) Option {
	return func(s *ChunkStep) { s.stepListeners = append(s.stepListeners, l...) }
}

// WithChunkListeners adds chunk listeners.
func WithChunkListeners(l ...port.ChunkListener) Option {
	return func(s *ChunkStep) { s.chunkListeners = append(s.chunkListeners, l...) }
}

// WithSkipListeners adds skip listeners.
func WithSkipListeners(l ...port.SkipListener) Option {
	return func(s *ChunkStep) { s.skipListeners = append(s.skipListeners, l...) }
}

// WithAllowStartIfComplete makes the step run again on restart even when it completed.
func WithAllowStartIfComplete(allow bool) Option {
	return func(s *ChunkStep) { s.allowStartIfComplete = allow }
}

// WithMetrics sets the metric recorder and tracer.
func WithMetrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) Option {
	return func(s *ChunkStep) {
		s.metricRecorder = recorder
		s.tracer = tracer
	}
}

// NewChunkStep creates a ChunkStep. chunkSize values below 1 are treated as 1.
func NewChunkStep(id string, provider port.ChunkComponentsProvider, chunkSize int, opts ...Option) *ChunkStep {
	if chunkSize < 1 {
		chunkSize = 1
	}
	s := &ChunkStep{
		id:             id,
		provider:       provider,
		chunkSize:      chunkSize,
		skipPolicy:     skip.NeverSkip(),
		txManager:      tx.NewNoOpTransactionManager(),
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Components returns a provider handing out fixed collaborators.
// Use it when the collaborators do not depend on job parameters or context.
func Components(reader port.ItemReader, processor port.ItemProcessor, writer port.ItemWriter) port.ChunkComponentsProvider {
	return func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
		return port.ChunkComponents{Reader: reader, Processor: processor, Writer: writer}, nil
	}
}

// ID returns the step ID.
func (s *ChunkStep) ID() string { return s.id }

// StepName returns the step name.
func (s *ChunkStep) StepName() string { return s.id }

// ChunkSize returns the number of items per transaction.
func (s *ChunkStep) ChunkSize() int { return s.chunkSize }

// IsAllowStartIfComplete implements port.Step.
func (s *ChunkStep) IsAllowStartIfComplete() bool { return s.allowStartIfComplete }

// SetMetricRecorder replaces the metric recorder.
func (s *ChunkStep) SetMetricRecorder(recorder metrics.MetricRecorder) { s.metricRecorder = recorder }

// SetTracer replaces the tracer.
func (s *ChunkStep) SetTracer(tracer metrics.Tracer) { s.tracer = tracer }

func (s *ChunkStep) txOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: s.isolationLevel}
}

// Execute runs the chunk-oriented step logic.
func (s *ChunkStep) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	lc := step.NewLifecycle(s.id, s.jobRepository, s.stepListeners, s.metricRecorder, s.tracer)
	spanCtx, end, err := lc.Start(ctx, stepExecution)
	if err != nil {
		return lc.Finish(ctx, stepExecution, err)
	}
	defer end()

	logger.Infof("ChunkStep '%s' executing (chunk size %d).", stepExecution.StepName, s.chunkSize)
	runErr := s.execute(spanCtx, jobExecution, stepExecution)
	return lc.Finish(spanCtx, stepExecution, runErr)
}

func (s *ChunkStep) execute(ctx context.Context, jobExecution *model.JobExecution, se *model.StepExecution) error {
	committed := se.ExecutionContext.DeepCopy()

	comps, err := s.provider(ctx, port.NewStepScope(jobExecution, se))
	if err != nil {
		return exception.NewBatchError(s.id, "failed to build chunk components", err, false, false)
	}
	if comps.Reader == nil || comps.Writer == nil {
		return exception.NewBatchErrorf(s.id, "chunk step '%s' requires a reader and a writer", s.id)
	}
	if ra, ok := comps.Reader.(port.RestartAware); ok && !ra.IsResumable() {
		resetForNonResumable(se)
		committed = se.ExecutionContext.DeepCopy()
	}

	err = s.run(ctx, se, comps, &committed)
	if err != nil {
		// Only state that was committed survives a failed chunk.
		restoreContext(se.ExecutionContext, committed)
	}
	return err
}

func (s *ChunkStep) run(ctx context.Context, se *model.StepExecution, comps port.ChunkComponents, committed *model.ExecutionContext) (err error) {
	if err := comps.Reader.Open(ctx, se.ExecutionContext); err != nil {
		return exception.NewBatchError(s.id, "failed to open ItemReader", err, false, false)
	}
	defer func() {
		if cerr := comps.Reader.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warnf("ChunkStep '%s': failed to close ItemReader: %v", s.id, cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	if err := comps.Writer.Open(ctx, se.ExecutionContext); err != nil {
		return exception.NewBatchError(s.id, "failed to open ItemWriter", err, false, false)
	}
	defer func() {
		if cerr := comps.Writer.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warnf("ChunkStep '%s': failed to close ItemWriter: %v", s.id, cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := s.processChunk(ctx, se, comps, committed)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// processChunk runs one transaction. It reports done once the reader is exhausted.
func (s *ChunkStep) processChunk(ctx context.Context, se *model.StepExecution, comps port.ChunkComponents, committed *model.ExecutionContext) (bool, error) {
	t, err := s.txManager.Begin(ctx, s.txOptions())
	if err != nil {
		return false, exception.NewBatchError(s.id, "failed to begin transaction for chunk", err, false, false)
	}
	txCtx := tx.WithTx(ctx, t)

	for _, l := range s.chunkListeners {
		l.BeforeChunk(txCtx, se)
	}

	skipsBefore := se.SkipCount()
	items, inputs, read, eof, err := s.readAndProcess(txCtx, se, comps)
	if err != nil {
		return false, s.rollbackChunk(txCtx, se, t, err)
	}

	if read == 0 && se.SkipCount() == skipsBefore {
		// Nothing was read: the reader was already exhausted.
		if rbErr := s.txManager.Rollback(t); rbErr != nil {
			logger.Warnf("ChunkStep '%s': failed to release empty chunk transaction: %v", s.id, rbErr)
		}
		for _, l := range s.chunkListeners {
			l.AfterChunk(txCtx, se)
		}
		return true, nil
	}

	if len(items) > 0 {
		if werr := comps.Writer.Write(txCtx, t, items); werr != nil {
			if !s.skipPolicy.ShouldSkip(werr) {
				return false, s.rollbackChunk(txCtx, se, t, exception.NewBatchError(s.id, "item write failed", werr, false, false))
			}
			// Roll the chunk back and process and write it again item by item to isolate the
			// failing items. The step context is replayed from the last commit, so a skipped
			// item leaves nothing behind in it.
			logger.Warnf("ChunkStep '%s': skippable write error, scanning chunk of %d items: %v", s.id, len(items), werr)
			s.rollback(se, t)
			restoreContext(se.ExecutionContext, committed.DeepCopy())
			if err := s.scan(ctx, se, comps, inputs, items); err != nil {
				for _, l := range s.chunkListeners {
					l.AfterChunkError(txCtx, se, err)
				}
				return false, err
			}
			return eof, s.afterCommit(txCtx, se, comps, committed)
		}
	}

	if err := s.txManager.Commit(t); err != nil {
		return false, s.rollbackChunk(txCtx, se, t, exception.NewBatchError(s.id, "failed to commit chunk transaction", err, false, false))
	}
	se.WriteCount += len(items)
	se.CommitCount++
	s.metricRecorder.RecordItemWrite(txCtx, se, len(items))
	s.metricRecorder.RecordChunkCommit(txCtx, se, len(items))

	return eof, s.afterCommit(txCtx, se, comps, committed)
}

// readAndProcess fills one chunk. inputs[i] is the item read for items[i]; read is the
// number of items read successfully.
func (s *ChunkStep) readAndProcess(ctx context.Context, se *model.StepExecution, comps port.ChunkComponents) (items, inputs []interface{}, read int, eof bool, err error) {
	items = make([]interface{}, 0, s.chunkSize)
	inputs = make([]interface{}, 0, s.chunkSize)
	for read < s.chunkSize {
		if s.itemCountLimit > 0 && se.ReadCount >= s.itemCountLimit {
			return items, inputs, read, true, nil
		}

		item, rerr := comps.Reader.Read(ctx)
		if errors.Is(rerr, port.ErrNoMoreItems) {
			return items, inputs, read, true, nil
		}
		if rerr != nil {
			if serr := s.skip(ctx, se, metrics.PhaseRead, nil, rerr); serr != nil {
				return nil, nil, read, false, serr
			}
			continue
		}
		read++
		se.ReadCount++
		s.metricRecorder.RecordItemRead(ctx, se)

		if comps.Processor == nil {
			items = append(items, item)
			inputs = append(inputs, item)
			continue
		}
		out, perr := comps.Processor.Process(ctx, item)
		if perr != nil {
			if serr := s.skip(ctx, se, metrics.PhaseProcess, item, perr); serr != nil {
				return nil, nil, read, false, serr
			}
			continue
		}
		se.ProcessCount++
		if out == nil {
			se.FilterCount++
			s.metricRecorder.RecordItemFilter(ctx, se)
			continue
		}
		items = append(items, out)
		inputs = append(inputs, item)
	}
	return items, inputs, read, false, nil
}

// skip accounts for a skippable item error, or returns the error that fails the step.
func (s *ChunkStep) skip(ctx context.Context, se *model.StepExecution, phase string, item interface{}, cause error) error {
	if !s.skipPolicy.ShouldSkip(cause) {
		return exception.NewBatchError(s.id, fmt.Sprintf("item %s failed", phase), cause, false, false)
	}
	if !s.skipPolicy.CanSkip(se.SkipCount()) {
		return &exception.SkipLimitExceededError{StepName: se.StepName, Limit: s.skipPolicy.GetSkipLimit(), Cause: cause}
	}

	switch phase {
	case metrics.PhaseRead:
		se.SkipReadCount++
	case metrics.PhaseProcess:
		se.SkipProcessCount++
	default:
		se.SkipWriteCount++
	}
	logger.Warnf("ChunkStep '%s': item skipped in %s (skip count %d/%d): %v", se.StepName, phase, se.SkipCount(), s.skipPolicy.GetSkipLimit(), cause)
	s.metricRecorder.RecordItemSkip(ctx, se, phase)
	s.tracer.RecordError(ctx, s.id, cause)

	for _, l := range s.skipListeners {
		switch phase {
		case metrics.PhaseRead:
			l.OnSkipInRead(ctx, cause)
		case metrics.PhaseProcess:
			l.OnSkipInProcess(ctx, item, cause)
		default:
			l.OnSkipInWrite(ctx, item, cause)
		}
	}
	return nil
}

// scan processes and writes each item of a rolled back chunk in its own transaction,
// skipping the items whose write fails with a skippable error. A skipped item's changes
// to the step context are undone. Counts of the first pass are not taken again.
func (s *ChunkStep) scan(ctx context.Context, se *model.StepExecution, comps port.ChunkComponents, inputs, items []interface{}) error {
	for i, input := range inputs {
		t, err := s.txManager.Begin(ctx, s.txOptions())
		if err != nil {
			return exception.NewBatchError(s.id, "failed to begin transaction for chunk scan", err, false, false)
		}
		txCtx := tx.WithTx(ctx, t)
		before := se.ExecutionContext.DeepCopy()

		item := items[i]
		if comps.Processor != nil {
			out, perr := comps.Processor.Process(txCtx, input)
			if perr != nil || out == nil {
				s.rollback(se, t)
				restoreContext(se.ExecutionContext, before)
				if perr != nil {
					if serr := s.skip(txCtx, se, metrics.PhaseProcess, input, perr); serr != nil {
						return serr
					}
				}
				continue
			}
			item = out
		}

		if werr := comps.Writer.Write(txCtx, t, []interface{}{item}); werr != nil {
			s.rollback(se, t)
			restoreContext(se.ExecutionContext, before)
			if serr := s.skip(txCtx, se, metrics.PhaseWrite, item, werr); serr != nil {
				return serr
			}
			continue
		}
		if err := s.txManager.Commit(t); err != nil {
			return exception.NewBatchError(s.id, fmt.Sprintf("failed to commit item %d during chunk scan", i), err, false, false)
		}
		se.WriteCount++
		se.CommitCount++
		s.metricRecorder.RecordItemWrite(txCtx, se, 1)
		s.metricRecorder.RecordChunkCommit(txCtx, se, 1)
	}
	return nil
}

// afterCommit saves the reader and writer state into the step context and persists the
// step execution, making the commit a restart point.
func (s *ChunkStep) afterCommit(ctx context.Context, se *model.StepExecution, comps port.ChunkComponents, committed *model.ExecutionContext) error {
	for _, stream := range []interface {
		GetExecutionContext(context.Context) (model.ExecutionContext, error)
	}{comps.Reader, comps.Writer} {
		ec, err := stream.GetExecutionContext(ctx)
		if err != nil {
			return exception.NewBatchError(s.id, "failed to collect execution context after commit", err, false, false)
		}
		se.ExecutionContext.Merge(ec)
	}
	*committed = se.ExecutionContext.DeepCopy()

	if s.jobRepository != nil {
		if err := s.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), se); err != nil {
			return exception.NewBatchError(s.id, "failed to persist StepExecution after commit", err, false, false)
		}
	}
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, se)
	}
	logger.Debugf("ChunkStep '%s': chunk committed (read %d, written %d, skipped %d).", se.StepName, se.ReadCount, se.WriteCount, se.SkipCount())
	return nil
}

func (s *ChunkStep) rollback(se *model.StepExecution, t tx.Tx) {
	if err := s.txManager.Rollback(t); err != nil {
		logger.Errorf("ChunkStep '%s': rollback failed: %v", s.id, err)
	}
	se.RollbackCount++
}

func (s *ChunkStep) rollbackChunk(ctx context.Context, se *model.StepExecution, t tx.Tx, cause error) error {
	s.rollback(se, t)
	s.metricRecorder.RecordChunkRollback(ctx, se)
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, se, cause)
	}
	return cause
}

// restoreContext replaces the contents of ec in place; collaborators keep their reference to it.
func restoreContext(ec, committed model.ExecutionContext) {
	for k := range ec {
		delete(ec, k)
	}
	for k, v := range committed {
		ec[k] = v
	}
}

// resetForNonResumable drops saved state, keeping only the partition stamp.
func resetForNonResumable(se *model.StepExecution) {
	kept := model.NewExecutionContext()
	for _, k := range []string{model.PartitionIndexKey, model.PartitionCountKey, model.PartitionKeyKey} {
		if v, ok := se.ExecutionContext.Get(k); ok {
			kept.Put(k, v)
		}
	}
	if len(se.ExecutionContext) > len(kept) {
		logger.Infof("ChunkStep '%s': reader is not resumable, starting from the beginning.", se.StepName)
	}
	restoreContext(se.ExecutionContext, kept)
}
