package notification_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/listener/notification"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

type recordingNotifier struct {
	notified []*model.JobExecution
	err      error
}

func (n *recordingNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error {
	n.notified = append(n.notified, execution)
	return n.err
}

func finishedExecution(failed bool) *model.JobExecution {
	je := model.NewJobExecution("instance", "transactionsJob", model.NewJobParameters())
	je.MarkAsStarted()
	if failed {
		je.MarkAsFailed(errors.New("db down"))
	} else {
		je.MarkAsCompleted()
	}
	return je
}

func TestNotificationListenerSendsSnapshot(t *testing.T) {
	n := &recordingNotifier{}
	l := notification.NewNotificationListener(n, false)

	je := finishedExecution(false)
	l.AfterJob(context.Background(), je)

	require.Len(t, n.notified, 1)
	assert.Equal(t, je.ID, n.notified[0].ID)
	assert.Equal(t, model.BatchStatusCompleted, n.notified[0].Status)
	assert.NotSame(t, je, n.notified[0])
}

func TestNotificationListenerOnlyOnFailure(t *testing.T) {
	n := &recordingNotifier{err: errors.New("smtp unavailable")}
	l := notification.NewNotificationListener(n, true)

	l.AfterJob(context.Background(), finishedExecution(false))
	assert.Empty(t, n.notified)

	l.AfterJob(context.Background(), finishedExecution(true))
	require.Len(t, n.notified, 1)
	assert.Equal(t, model.BatchStatusFailed, n.notified[0].Status)
}

func TestLogNotifierWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	je := finishedExecution(true)
	require.NoError(t, notification.NewLogNotifier().NotifyJobCompletion(context.Background(), je))

	assert.Contains(t, buf.String(), "Job 'transactionsJob'")
	assert.Contains(t, buf.String(), "Status: FAILED")
	assert.Contains(t, buf.String(), "Failures: 1")
}

func TestNotificationBuilderBindsProperties(t *testing.T) {
	registry := jsl.NewRegistry()
	n := &recordingNotifier{}
	registry.RegisterJobListener(notification.NotificationListenerRef, notification.NewNotificationJobListenerBuilder(n))

	build, err := registry.JobListener(notification.NotificationListenerRef)
	require.NoError(t, err)
	l, err := build(map[string]string{"only-on-failure": "true"})
	require.NoError(t, err)

	l.AfterJob(context.Background(), finishedExecution(false))
	assert.Empty(t, n.notified)
}
