package usecase_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/core/job/runner"
	"github.com/tigerroll/batchflow/pkg/batch/infrastructure/repository/inmemory"
)

// countingStep fails the runs listed in failOn (1-based) and completes the others.
// When block is set, the first run waits for its context to be cancelled and stops.
type countingStep struct {
	name    string
	failOn  map[int]bool
	block   bool
	started chan struct{}
	runs    atomic.Int32
}

func (s *countingStep) ID() string                   { return s.name }
func (s *countingStep) StepName() string             { return s.name }
func (s *countingStep) IsAllowStartIfComplete() bool { return false }

func (s *countingStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	run := int(s.runs.Add(1))
	se.MarkAsStarted()
	if s.block && run == 1 {
		close(s.started)
		<-ctx.Done()
		se.MarkAsStopped()
		return nil
	}
	if s.failOn[run] {
		err := errors.New("transient failure")
		se.MarkAsFailed(err)
		return err
	}
	se.MarkAsCompleted()
	return nil
}

type runIDIncrementer struct{}

func (runIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	id, _ := params.GetInt64("run.id")
	params.Put("run.id", id+1)
	return params
}

type requireDate struct{}

func (requireDate) Validate(params model.JobParameters) error {
	if _, ok := params.GetString("date"); !ok {
		return errors.New("date is required")
	}
	return nil
}

type harness struct {
	repo     *inmemory.InMemoryJobRepository
	registry *usecase.JobRegistry
	launcher *usecase.SimpleJobLauncher
	operator *usecase.SimpleJobOperator
	explorer *usecase.SimpleJobExplorer
}

func newHarness() *harness {
	cfg := config.NewConfig()
	cfg.Batch.Job.PollingIntervalMillis = 5
	repo := inmemory.NewInMemoryJobRepository()
	registry := usecase.NewJobRegistry()
	launcher := usecase.NewSimpleJobLauncher(repo, registry, runner.NewSimpleJobRunner(repo), cfg)
	return &harness{
		repo:     repo,
		registry: registry,
		launcher: launcher,
		operator: usecase.NewSimpleJobOperator(repo, registry, launcher),
		explorer: usecase.NewSimpleJobExplorer(repo),
	}
}

func (h *harness) register(t *testing.T, name string, step *countingStep, opts ...runner.Option) {
	t.Helper()
	flow := model.NewFlowDefinition(step.name)
	require.NoError(t, flow.AddElement(step.name, step))
	require.NoError(t, h.registry.Register(runner.NewFlowJob(name, name, flow, h.repo, nil, nil, nil, opts...)))
}

func params(date string) model.JobParameters {
	p := model.NewJobParameters()
	p.Put("date", date)
	return p
}

func TestLauncherRunCompletesAndRejectsCompletedInstance(t *testing.T) {
	h := newHarness()
	step := &countingStep{name: "load"}
	h.register(t, "loadJob", step)
	ctx := context.Background()

	je, err := h.launcher.Run(ctx, "loadJob", params("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, "load", je.StepExecutions[0].StepName)

	_, err = h.launcher.Launch(ctx, "loadJob", params("2024-01-01"))
	assert.ErrorIs(t, err, usecase.ErrJobInstanceAlreadyComplete)

	// Different identifying parameters make a new instance.
	je, err = h.launcher.Run(ctx, "loadJob", params("2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, 2, int(step.runs.Load()))
}

func TestLauncherRestartsFailedInstance(t *testing.T) {
	h := newHarness()
	step := &countingStep{name: "load", failOn: map[int]bool{1: true}}
	h.register(t, "loadJob", step)
	ctx := context.Background()

	first, err := h.launcher.Run(ctx, "loadJob", params("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, first.Status)
	assert.NotEmpty(t, first.Failures)

	second, err := h.launcher.Run(ctx, "loadJob", params("2024-01-01"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, 1, second.RestartCount)

	executions, err := h.explorer.GetJobExecutions(ctx, first.JobInstanceID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, second.ID, executions[0].ID, "newest first")
	assert.Equal(t, model.BatchStatusFailed, executions[1].Status, "previous execution is kept as it was")
}

func TestLauncherRejectsRestartOfNonRestartableJob(t *testing.T) {
	h := newHarness()
	h.register(t, "loadJob", &countingStep{name: "load", failOn: map[int]bool{1: true}}, runner.WithRestartable(false))
	ctx := context.Background()

	first, err := h.launcher.Run(ctx, "loadJob", params("2024-01-01"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, first.Status)

	_, err = h.launcher.Launch(ctx, "loadJob", params("2024-01-01"))
	assert.ErrorIs(t, err, usecase.ErrJobRestartNotAllowed)
}

func TestLauncherStopAndRestartFromStoppedStep(t *testing.T) {
	h := newHarness()
	step := &countingStep{name: "load", block: true, started: make(chan struct{})}
	h.register(t, "loadJob", step)
	ctx := context.Background()

	launched, err := h.launcher.Launch(ctx, "loadJob", params("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarting, launched.Status)

	select {
	case <-step.started:
	case <-time.After(5 * time.Second):
		t.Fatal("step did not start")
	}

	_, err = h.launcher.Launch(ctx, "loadJob", params("2024-01-01"))
	assert.ErrorIs(t, err, usecase.ErrJobExecutionAlreadyRunning)

	require.NoError(t, h.operator.Stop(ctx, launched.ID))
	require.Eventually(t, func() bool {
		je, err := h.explorer.GetJobExecution(ctx, launched.ID)
		return err == nil && je.Status == model.BatchStatusStopped
	}, 5*time.Second, 10*time.Millisecond)

	stopped, err := h.explorer.GetJobExecution(ctx, launched.ID)
	require.NoError(t, err)
	assert.Equal(t, "load", stopped.CurrentStepName)

	restarted, err := h.operator.Restart(ctx, launched.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusRestarting, restarted.Status)
	assert.Equal(t, "load", restarted.CurrentStepName)

	require.Eventually(t, func() bool {
		je, err := h.explorer.GetJobExecution(ctx, restarted.ID)
		return err == nil && je.Status == model.BatchStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, int(step.runs.Load()))
}

func TestLauncherAppliesIncrementer(t *testing.T) {
	h := newHarness()
	h.register(t, "loadJob", &countingStep{name: "load"}, runner.WithIncrementer(runIDIncrementer{}))
	ctx := context.Background()

	first, err := h.launcher.Run(ctx, "loadJob", model.NewJobParameters())
	require.NoError(t, err)
	second, err := h.launcher.Run(ctx, "loadJob", model.NewJobParameters())
	require.NoError(t, err)

	firstID, _ := first.Parameters.GetInt64("run.id")
	secondID, _ := second.Parameters.GetInt64("run.id")
	assert.Equal(t, int64(1), firstID)
	assert.Equal(t, int64(2), secondID)
	assert.NotEqual(t, first.JobInstanceID, second.JobInstanceID)

	instances, err := h.explorer.GetJobInstances(ctx, "loadJob")
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestLauncherValidatesParameters(t *testing.T) {
	h := newHarness()
	h.register(t, "loadJob", &countingStep{name: "load"}, runner.WithValidator(requireDate{}))
	ctx := context.Background()

	_, err := h.launcher.Launch(ctx, "loadJob", model.NewJobParameters())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date is required")

	names, err := h.explorer.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "no instance is created for invalid parameters")
}

func TestLauncherUnknownJob(t *testing.T) {
	h := newHarness()
	_, err := h.launcher.Launch(context.Background(), "missing", model.NewJobParameters())
	assert.ErrorIs(t, err, usecase.ErrNoSuchJob)
}

func TestOperatorAbandonBlocksRestart(t *testing.T) {
	h := newHarness()
	h.register(t, "loadJob", &countingStep{name: "load", failOn: map[int]bool{1: true}})
	ctx := context.Background()

	first, err := h.launcher.Run(ctx, "loadJob", params("2024-01-01"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, first.Status)

	require.NoError(t, h.operator.Abandon(ctx, first.ID))
	abandoned, err := h.explorer.GetJobExecution(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, abandoned.Status)

	_, err = h.launcher.Launch(ctx, "loadJob", params("2024-01-01"))
	assert.ErrorIs(t, err, usecase.ErrJobRestartNotAllowed)

	_, err = h.operator.Restart(ctx, first.ID)
	assert.Error(t, err)
}

func TestOperatorStopUnknownExecution(t *testing.T) {
	h := newHarness()
	err := h.operator.Stop(context.Background(), "nope")
	assert.ErrorIs(t, err, usecase.ErrJobExecutionNotRunning)
}

func TestJobRegistryRejectsDuplicates(t *testing.T) {
	h := newHarness()
	h.register(t, "loadJob", &countingStep{name: "load"})
	flow := model.NewFlowDefinition("load")
	require.NoError(t, flow.AddElement("load", &countingStep{name: "load"}))
	err := h.registry.Register(runner.NewFlowJob("loadJob", "loadJob", flow, h.repo, nil, nil, nil))
	assert.Error(t, err)
	assert.Equal(t, []string{"loadJob"}, h.registry.Names())
}
