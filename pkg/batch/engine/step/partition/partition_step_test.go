package partition_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	citem "github.com/tigerroll/batchflow/pkg/batch/component/item"
	"github.com/tigerroll/batchflow/pkg/batch/component/partitioner"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/partition"
	"github.com/tigerroll/batchflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

func accounts() []interface{} {
	items := make([]interface{}, 9)
	for i := range items {
		items[i] = fmt.Sprintf("account-%d", i+1)
	}
	return items
}

func keyOf(item interface{}) string { return item.(string) }

// failingWriter rejects any batch containing an item listed in fail.
type failingWriter struct {
	citem.CollectingItemWriter
	mu   sync.Mutex
	fail map[string]bool
}

func (w *failingWriter) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	w.mu.Lock()
	for _, it := range items {
		if w.fail[keyOf(it)] {
			w.mu.Unlock()
			return errors.New("cannot write " + keyOf(it))
		}
	}
	w.mu.Unlock()
	return w.CollectingItemWriter.Write(ctx, t, items)
}

func workerStep(writer port.ItemWriter) port.Step {
	provider := func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
		selector, err := partitioner.SelectorFromScope(scope)
		if err != nil {
			return port.ChunkComponents{}, err
		}
		reader := citem.NewFilteringReader(citem.NewListItemReader("accounts", accounts()), selector.Accept(keyOf))
		return port.ChunkComponents{Reader: reader, Writer: writer}, nil
	}
	return item.NewChunkStep("sumAccounts", provider, 2)
}

func newJob(t *testing.T, repo *inmemory.InMemoryJobRepository) *model.JobExecution {
	t.Helper()
	je := model.NewJobExecution(model.NewID(), "accountsJob", model.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	return je
}

func newController(t *testing.T, repo *inmemory.InMemoryJobRepository, je *model.JobExecution) *model.StepExecution {
	t.Helper()
	se := model.NewStepExecution(model.NewID(), je, "sumAccounts")
	je.AddStepExecution(se)
	require.NoError(t, repo.SaveStepExecution(context.Background(), se))
	return se
}

func sorted(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, keyOf(it))
	}
	sort.Strings(out)
	return out
}

func TestPartitionStepMatchesUnpartitionedRun(t *testing.T) {
	ctx := context.Background()

	plainWriter := citem.NewCollectingItemWriter()
	plain := model.NewStepExecution(model.NewID(), nil, "sumAccounts")
	require.NoError(t, workerStep(plainWriter).Execute(ctx, nil, plain))

	repo := inmemory.NewInMemoryJobRepository()
	je := newJob(t, repo)
	controller := newController(t, repo, je)
	writer := citem.NewCollectingItemWriter()
	step := partition.NewPartitionStep("sumAccounts", partitioner.NewGridPartitioner(), workerStep(writer), 3,
		partition.WithJobRepository(repo))

	require.NoError(t, step.Execute(ctx, je, controller))

	assert.Equal(t, model.BatchStatusCompleted, controller.Status)
	assert.Equal(t, sorted(plainWriter.Items()), sorted(writer.Items()))
	assert.Equal(t, 9, controller.ReadCount)
	assert.Equal(t, 9, controller.WriteCount)
	assert.Equal(t, plain.ReadCount, controller.ReadCount)

	for i := 0; i < 3; i++ {
		name := partition.WorkerName("sumAccounts", model.PartitionName(i))
		worker, ok := je.FindStepExecution(name)
		require.True(t, ok, name)
		assert.Equal(t, model.BatchStatusCompleted, worker.Status)
		idx, _ := worker.ExecutionContext.GetInt(model.PartitionIndexKey)
		count, _ := worker.ExecutionContext.GetInt(model.PartitionCountKey)
		key, _ := worker.ExecutionContext.GetString(model.PartitionKeyKey)
		assert.Equal(t, i, idx)
		assert.Equal(t, 3, count)
		assert.Equal(t, model.PartitionName(i), key)

		stored, err := repo.FindStepExecutionByID(ctx, worker.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	}
	// Worker contexts stay with the workers.
	assert.False(t, controller.ExecutionContext.Has(model.PartitionKeyKey))
}

func TestPartitionStepFailureAndRestart(t *testing.T) {
	ctx := context.Background()
	bad := "account-4"
	badPartition := model.PartitionName(partitioner.PartitionOf(bad, 3))

	repo := inmemory.NewInMemoryJobRepository()
	je := newJob(t, repo)
	controller := newController(t, repo, je)
	writer := &failingWriter{fail: map[string]bool{bad: true}}
	step := partition.NewPartitionStep("sumAccounts", partitioner.NewGridPartitioner(), workerStep(writer), 3,
		partition.WithJobRepository(repo), partition.WithConcurrency(1))

	err := step.Execute(ctx, je, controller)
	require.Error(t, err)
	var pe *exception.PartitionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, badPartition, pe.PartitionName)
	assert.Equal(t, model.BatchStatusFailed, controller.Status)
	assert.NotEmpty(t, controller.Failures)
	firstRun := len(writer.Items())

	// Restart: every step execution is carried over into a new job execution.
	restarted := newJob(t, repo)
	for _, se := range je.StepExecutionsSnapshot() {
		next := se.CopyForRestart(restarted.ID)
		restarted.AddStepExecution(next)
		require.NoError(t, repo.SaveStepExecution(ctx, next))
	}
	restartController, ok := restarted.FindStepExecution("sumAccounts")
	require.True(t, ok)

	writer.mu.Lock()
	writer.fail = nil
	writer.mu.Unlock()
	require.NoError(t, step.Execute(ctx, restarted, restartController))

	assert.Equal(t, model.BatchStatusCompleted, restartController.Status)
	// Only the failed partition ran again, resuming after its last commit.
	rerun := writer.Items()[firstRun:]
	for _, it := range rerun {
		assert.Equal(t, partitioner.PartitionOf(keyOf(it), 3), partitioner.PartitionOf(bad, 3))
	}
	assert.Equal(t, sorted(accounts()), sorted(writer.Items()))
}

func TestPartitionStepRerunsWorkerLeftStarted(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := newJob(t, repo)
	controller := newController(t, repo, je)

	// Partition 0 of a crashed run: started, never finished.
	name := partition.WorkerName("sumAccounts", model.PartitionName(0))
	leftover := model.NewStepExecution(model.NewID(), je, name)
	leftover.ExecutionContext.Put(model.PartitionIndexKey, 0)
	leftover.ExecutionContext.Put(model.PartitionCountKey, 3)
	leftover.ExecutionContext.Put(model.PartitionKeyKey, model.PartitionName(0))
	leftover.MarkAsStarted()
	je.AddStepExecution(leftover)
	require.NoError(t, repo.SaveStepExecution(ctx, leftover))

	writer := citem.NewCollectingItemWriter()
	step := partition.NewPartitionStep("sumAccounts", partitioner.NewGridPartitioner(), workerStep(writer), 3,
		partition.WithJobRepository(repo))
	require.NoError(t, step.Execute(ctx, je, controller))

	assert.Equal(t, model.BatchStatusCompleted, controller.Status)
	assert.Equal(t, sorted(accounts()), sorted(writer.Items()))

	var named []*model.StepExecution
	for _, se := range je.StepExecutionsSnapshot() {
		if se.StepName == name {
			named = append(named, se)
		}
	}
	require.Len(t, named, 2)
	assert.Equal(t, model.BatchStatusAbandoned, named[0].Status)
	assert.Equal(t, model.BatchStatusCompleted, named[1].Status)

	stored, err := repo.FindStepExecutionByID(ctx, leftover.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status)
}

type panickingStep struct{}

func (panickingStep) ID() string                   { return "boom" }
func (panickingStep) StepName() string             { return "boom" }
func (panickingStep) IsAllowStartIfComplete() bool { return false }
func (panickingStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	panic("boom")
}

func TestSimpleStepExecutorRecoversPanic(t *testing.T) {
	se := model.NewStepExecution(model.NewID(), nil, "boom")
	got, err := partition.NewSimpleStepExecutor(nil).ExecuteStep(context.Background(), panickingStep{}, nil, se)
	require.Error(t, err)
	assert.Same(t, se, got)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
}

// quietStep finishes its execution without touching the repository.
type quietStep struct{}

func (quietStep) ID() string                   { return "quiet" }
func (quietStep) StepName() string             { return "quiet" }
func (quietStep) IsAllowStartIfComplete() bool { return false }
func (quietStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	se.MarkAsStarted()
	se.MarkAsCompleted()
	return nil
}

func TestSimpleStepExecutorRecordsFinalStatus(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := newJob(t, repo)
	se := model.NewStepExecution(model.NewID(), je, "quiet")
	je.AddStepExecution(se)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	_, err := partition.NewSimpleStepExecutor(repo).ExecuteStep(ctx, quietStep{}, je, se)
	require.NoError(t, err)

	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
}

func TestPartitionStepPartitionerError(t *testing.T) {
	step := partition.NewPartitionStep("sumAccounts", partitioner.NewGridPartitioner(), workerStep(citem.NewNoOpItemWriter()), 0)
	se := model.NewStepExecution(model.NewID(), nil, "sumAccounts")
	require.Error(t, step.Execute(context.Background(), nil, se))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
}
