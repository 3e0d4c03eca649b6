// Package logging provides listeners that write structured log entries for job, step,
// chunk and skip events.
package logging

import (
	"context"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.WithFields(logger.Fields{
		"job":       jobExecution.JobName,
		"execution": jobExecution.ID,
		"restart":   jobExecution.RestartCount,
	}).Infof("Job starting with parameters %s", jobExecution.Parameters.String())
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	snapshot := jobExecution.SnapshotWithoutSteps()
	entry := logger.WithFields(logger.Fields{
		"job":       snapshot.JobName,
		"execution": snapshot.ID,
		"status":    snapshot.Status,
		"exit":      snapshot.ExitStatus,
	})
	if snapshot.Status == model.BatchStatusFailed {
		entry.Errorf("Job failed: %v", snapshot.Failures)
		return
	}
	entry.Info("Job ended.")
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Step Execution Listener ---

type LoggingStepListener struct{}

func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.WithFields(logger.Fields{
		"step":      stepExecution.StepName,
		"execution": stepExecution.ID,
	}).Info("Step starting.")
}

// AfterStep logs the counters and leaves the exit status unchanged.
func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) model.ExitStatus {
	logger.WithFields(logger.Fields{
		"step":     stepExecution.StepName,
		"status":   stepExecution.Status,
		"exit":     stepExecution.ExitStatus,
		"read":     stepExecution.ReadCount,
		"write":    stepExecution.WriteCount,
		"filter":   stepExecution.FilterCount,
		"skip":     stepExecution.SkipCount(),
		"commit":   stepExecution.CommitCount,
		"rollback": stepExecution.RollbackCount,
	}).Info("Step ended.")
	return ""
}

var _ port.StepExecutionListener = (*LoggingStepListener)(nil)

// --- Chunk Listener ---

type LoggingChunkListener struct{}

func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s", stepExecution.StepName)
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Read: %d, Write: %d", stepExecution.StepName, stepExecution.ReadCount, stepExecution.WriteCount)
}

func (l *LoggingChunkListener) AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	logger.Warnf("ChunkListener: AfterChunkError - StepName: %s, Error: %v", stepExecution.StepName, err)
}

var _ port.ChunkListener = (*LoggingChunkListener)(nil)

// --- Skip Listener ---

type LoggingSkipListener struct{}

func NewLoggingSkipListener() *LoggingSkipListener {
	return &LoggingSkipListener{}
}

func (l *LoggingSkipListener) OnSkipInRead(ctx context.Context, err error) {
	logger.Warnf("SkipListener: OnSkipInRead - Skipping record due to error: %v", err)
}

func (l *LoggingSkipListener) OnSkipInProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("SkipListener: OnSkipInProcess - Skipping item: %+v, Error: %v", item, err)
}

func (l *LoggingSkipListener) OnSkipInWrite(ctx context.Context, item interface{}, err error) {
	logger.Warnf("SkipListener: OnSkipInWrite - Skipping item: %+v, Error: %v", item, err)
}

var _ port.SkipListener = (*LoggingSkipListener)(nil)
