package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// metricEventType identifies the recorder method a queued event replays.
type metricEventType int

const (
	eventJobStart metricEventType = iota
	eventJobEnd
	eventStepStart
	eventStepEnd
	eventItemRead
	eventItemFilter
	eventItemWrite
	eventItemSkip
	eventChunkCommit
	eventChunkRollback
	eventDuration
)

// metricEvent is a recorder call captured for asynchronous replay. Executions are
// snapshots taken when the event is queued.
type metricEvent struct {
	ctx           context.Context
	eventType     metricEventType
	jobExecution  *model.JobExecution
	stepExecution *model.StepExecution
	count         int
	phase         string
	name          string
	duration      time.Duration
	tags          map[string]string
}

// AsyncMetricRecorder records metrics by pushing events to a buffered queue that a single
// worker goroutine drains into the wrapped recorder. Events are dropped, with a warning,
// when the queue is full.
type AsyncMetricRecorder struct {
	eventQueue   chan metricEvent
	stopCh       chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder creates the recorder and starts its worker.
// bufferSize: the event queue size; 0 or less uses 100.
func NewAsyncMetricRecorder(bufferSize int, syncRecorder metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan metricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRecorder,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: worker started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: worker stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event metricEvent) {
	ctx := event.ctx
	switch event.eventType {
	case eventJobStart:
		r.syncRecorder.RecordJobStart(ctx, event.jobExecution)
	case eventJobEnd:
		r.syncRecorder.RecordJobEnd(ctx, event.jobExecution)
	case eventStepStart:
		r.syncRecorder.RecordStepStart(ctx, event.stepExecution)
	case eventStepEnd:
		r.syncRecorder.RecordStepEnd(ctx, event.stepExecution)
	case eventItemRead:
		r.syncRecorder.RecordItemRead(ctx, event.stepExecution)
	case eventItemFilter:
		r.syncRecorder.RecordItemFilter(ctx, event.stepExecution)
	case eventItemWrite:
		r.syncRecorder.RecordItemWrite(ctx, event.stepExecution, event.count)
	case eventItemSkip:
		r.syncRecorder.RecordItemSkip(ctx, event.stepExecution, event.phase)
	case eventChunkCommit:
		r.syncRecorder.RecordChunkCommit(ctx, event.stepExecution, event.count)
	case eventChunkRollback:
		r.syncRecorder.RecordChunkRollback(ctx, event.stepExecution)
	case eventDuration:
		r.syncRecorder.RecordDuration(ctx, event.name, event.duration, event.tags)
	default:
		logger.Warnf("AsyncMetricRecorder: unknown metric event type: %d", event.eventType)
	}
}

// Close stops the worker after the queued events are recorded. Events sent after Close are dropped.
func (r *AsyncMetricRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		logger.Debugf("AsyncMetricRecorder: shutdown complete.")
	})
}

func (r *AsyncMetricRecorder) send(ctx context.Context, event metricEvent) {
	event.ctx = context.WithoutCancel(ctx)
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: event queue is full (type: %d). Event discarded.", event.eventType)
	}
}

// stepLabels copies what the recorders read from a step execution: its identity, its
// counters and the name of its job.
func stepLabels(se *model.StepExecution) *model.StepExecution {
	cp := *se
	cp.ExecutionContext = nil
	cp.Failures = nil
	if se.EndTime != nil {
		end := *se.EndTime
		cp.EndTime = &end
	}
	cp.JobExecution = &model.JobExecution{ID: se.JobExecutionID, JobName: metrics.JobNameOf(se)}
	return &cp
}

func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.send(ctx, metricEvent{eventType: eventJobStart, jobExecution: execution.SnapshotWithoutSteps()})
}

func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.send(ctx, metricEvent{eventType: eventJobEnd, jobExecution: execution.SnapshotWithoutSteps()})
}

func (r *AsyncMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.send(ctx, metricEvent{eventType: eventStepStart, stepExecution: stepLabels(execution)})
}

func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.send(ctx, metricEvent{eventType: eventStepEnd, stepExecution: stepLabels(execution)})
}

func (r *AsyncMetricRecorder) RecordItemRead(ctx context.Context, execution *model.StepExecution) {
	r.send(ctx, metricEvent{eventType: eventItemRead, stepExecution: stepLabels(execution)})
}

func (r *AsyncMetricRecorder) RecordItemFilter(ctx context.Context, execution *model.StepExecution) {
	r.send(ctx, metricEvent{eventType: eventItemFilter, stepExecution: stepLabels(execution)})
}

func (r *AsyncMetricRecorder) RecordItemWrite(ctx context.Context, execution *model.StepExecution, count int) {
	r.send(ctx, metricEvent{eventType: eventItemWrite, stepExecution: stepLabels(execution), count: count})
}

func (r *AsyncMetricRecorder) RecordItemSkip(ctx context.Context, execution *model.StepExecution, phase string) {
	r.send(ctx, metricEvent{eventType: eventItemSkip, stepExecution: stepLabels(execution), phase: phase})
}

func (r *AsyncMetricRecorder) RecordChunkCommit(ctx context.Context, execution *model.StepExecution, count int) {
	r.send(ctx, metricEvent{eventType: eventChunkCommit, stepExecution: stepLabels(execution), count: count})
}

func (r *AsyncMetricRecorder) RecordChunkRollback(ctx context.Context, execution *model.StepExecution) {
	r.send(ctx, metricEvent{eventType: eventChunkRollback, stepExecution: stepLabels(execution)})
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	r.send(ctx, metricEvent{eventType: eventDuration, name: name, duration: duration, tags: cp})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
