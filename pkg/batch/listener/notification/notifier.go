// Package notification reports finished job executions to a Notifier.
package notification

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// Notifier delivers job completion notices.
type Notifier interface {
	NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error
}

// LogNotifier is a Notifier that writes the notice to the application log.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Message formats the notice of a finished execution.
func Message(execution *model.JobExecution) string {
	duration := time.Duration(0)
	if execution.EndTime != nil {
		duration = execution.EndTime.Sub(execution.StartTime)
	}
	return fmt.Sprintf(
		"Job '%s' (ID: %s) finished with Status: %s, ExitStatus: %s. Duration: %s, Failures: %d",
		execution.JobName,
		execution.ID,
		execution.Status,
		execution.ExitStatus,
		duration.Round(time.Millisecond),
		len(execution.Failures),
	)
}

// NotifyJobCompletion logs at INFO for a completed job and at WARN otherwise.
func (n *LogNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error {
	if execution.Status == model.BatchStatusCompleted {
		logger.Infof("Notification: %s", Message(execution))
	} else {
		logger.Warnf("Notification: %s", Message(execution))
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)

// NotificationListener sends a notice after each job execution.
type NotificationListener struct {
	notifier      Notifier
	onlyOnFailure bool
}

// NewNotificationListener creates a listener. With onlyOnFailure, COMPLETED executions are not reported.
func NewNotificationListener(notifier Notifier, onlyOnFailure bool) *NotificationListener {
	return &NotificationListener{notifier: notifier, onlyOnFailure: onlyOnFailure}
}

// BeforeJob does nothing.
func (l *NotificationListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

// AfterJob notifies with a snapshot of the execution. Delivery errors are logged, never returned.
func (l *NotificationListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	snapshot := jobExecution.SnapshotWithoutSteps()
	if l.onlyOnFailure && snapshot.Status == model.BatchStatusCompleted {
		return
	}
	if err := l.notifier.NotifyJobCompletion(ctx, snapshot); err != nil {
		logger.Warnf("Notification: failed to notify completion of job '%s': %v", snapshot.JobName, err)
	}
}

var _ port.JobExecutionListener = (*NotificationListener)(nil)
