package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

func newInstance(t *testing.T, repo *inmemory.InMemoryJobRepository, rank int) *model.JobInstance {
	t.Helper()
	params := model.NewJobParameters()
	params.Put("rank", rank)
	params.PutNonIdentifying("correlationId", model.NewID())
	ji := model.NewJobInstance("coins", params)
	require.NoError(t, repo.SaveJobInstance(context.Background(), ji))
	return ji
}

func TestJobInstanceLookupByIdentifyingParameters(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	ji := newInstance(t, repo, 1)
	newInstance(t, repo, 2)

	lookup := model.NewJobParameters()
	lookup.Put("rank", 1)
	lookup.PutNonIdentifying("correlationId", "different")

	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "coins", lookup)
	require.NoError(t, err)
	assert.Equal(t, ji.ID, found.ID)

	lookup.Put("rank", 3)
	_, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "coins", lookup)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)

	instances, err := repo.FindJobInstancesByJobName(ctx, "coins")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	rank, _ := instances[0].Parameters.GetInt("rank")
	assert.Equal(t, 2, rank, "newest instance first")

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"coins"}, names)
}

func TestJobExecutionStoresSnapshots(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	ji := newInstance(t, repo, 1)

	je := model.NewJobExecution(ji.ID, ji.JobName, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	se := model.NewStepExecution(model.NewID(), je, "score")
	se.ExecutionContext.Put("reader.offset", 30)
	je.AddStepExecution(se)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	je.MarkAsStarted()
	je.PromoteContext("total", 12)
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	// live mutations after persistence are not visible
	se.ExecutionContext.Put("reader.offset", 99)
	je.PromoteContext("total", 13)

	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, loaded.Status)
	assert.Equal(t, float64(12), loaded.ExecutionContext["total"])
	require.Len(t, loaded.StepExecutions, 1)
	offset, _ := loaded.StepExecutions[0].ExecutionContext.GetInt("reader.offset")
	assert.Equal(t, 30, offset)
	assert.Same(t, loaded, loaded.StepExecutions[0].JobExecution)

	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	offset, _ = stored.ExecutionContext.GetInt("reader.offset")
	assert.Equal(t, 99, offset)
	assert.Equal(t, 1, se.Version)
}

func TestUpdateJobExecution_StaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := model.NewJobExecution("ji", "coins", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	stale.Version = 0
	err = repo.UpdateJobExecution(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func TestFindLatestAndRunningExecutions(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	ji := newInstance(t, repo, 1)

	first := model.NewJobExecution(ji.ID, ji.JobName, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, first))
	first.MarkAsFailed(nil)
	require.NoError(t, repo.UpdateJobExecution(ctx, first))

	second := model.NewJobExecution(ji.ID, ji.JobName, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, second))
	second.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, second))

	latest, err := repo.FindLatestJobExecution(ctx, ji.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	running, err := repo.FindRunningJobExecutions(ctx, "coins")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, second.ID, running[0].ID)

	all, err := repo.FindJobExecutionsByJobInstance(ctx, ji)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.FindJobExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}
