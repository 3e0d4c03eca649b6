package item_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/batchflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

func newStepExecution(name string) *model.StepExecution {
	return model.NewStepExecution(model.NewID(), nil, name)
}

func TestChunkStepCommitBatches(t *testing.T) {
	cases := []struct {
		items, chunkSize int
		wantBatches      []int
	}{
		{items: 0, chunkSize: 3, wantBatches: nil},
		{items: 1, chunkSize: 1, wantBatches: []int{1}},
		{items: 6, chunkSize: 3, wantBatches: []int{3, 3}},
		{items: 7, chunkSize: 3, wantBatches: []int{3, 3, 1}},
		{items: 5, chunkSize: 20, wantBatches: []int{5}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("N=%d,C=%d", tc.items, tc.chunkSize), func(t *testing.T) {
			reader := newSliceReader(intItems(tc.items)...)
			writer := &recordingWriter{}
			tm := tx.NewNoOpTransactionManager()
			step := item.NewChunkStep("load", item.Components(reader, nil, writer), tc.chunkSize, item.WithTransactionManager(tm))

			se := newStepExecution("load")
			require.NoError(t, step.Execute(context.Background(), nil, se))

			var sizes []int
			for _, b := range writer.batches {
				sizes = append(sizes, len(b))
			}
			assert.Equal(t, tc.wantBatches, sizes)
			assert.Equal(t, len(tc.wantBatches), se.CommitCount)
			assert.Equal(t, tc.items, se.ReadCount)
			assert.Equal(t, tc.items, se.WriteCount)
			assert.Equal(t, model.BatchStatusCompleted, se.Status)
			assert.Equal(t, model.ExitStatusCompleted, se.ExitStatus)
			assert.True(t, reader.closed)

			_, committed, _ := tm.Counts()
			assert.Equal(t, int64(len(tc.wantBatches)), committed)
		})
	}
}

func TestChunkStepSkipLimit(t *testing.T) {
	badItems := func(bad ...int) processorFunc {
		return func(ctx context.Context, it interface{}) (interface{}, error) {
			for _, b := range bad {
				if it.(int) == b {
					return nil, exception.NewSkippableError("processor", fmt.Sprintf("malformed record %d", b), nil)
				}
			}
			return it, nil
		}
	}
	policy := skip.NewDefaultSkipPolicyFactory().Create(2, nil)

	t.Run("exactly the limit completes", func(t *testing.T) {
		writer := &recordingWriter{}
		listener := &countingSkipListener{}
		step := item.NewChunkStep("scores", item.Components(newSliceReader(intItems(10)...), badItems(2, 7), writer), 4,
			item.WithSkipPolicy(policy), item.WithSkipListeners(listener))

		se := newStepExecution("scores")
		require.NoError(t, step.Execute(context.Background(), nil, se))
		assert.Equal(t, model.BatchStatusCompleted, se.Status)
		assert.Equal(t, 2, se.SkipCount())
		assert.Equal(t, 2, se.SkipProcessCount)
		assert.Equal(t, 8, se.WriteCount)
		assert.Equal(t, 2, listener.process)
	})

	t.Run("one more than the limit fails", func(t *testing.T) {
		writer := &recordingWriter{}
		step := item.NewChunkStep("scores", item.Components(newSliceReader(intItems(10)...), badItems(2, 7, 9), writer), 4,
			item.WithSkipPolicy(policy))

		se := newStepExecution("scores")
		err := step.Execute(context.Background(), nil, se)
		require.Error(t, err)
		assert.ErrorIs(t, err, exception.ErrSkipLimitExceeded)
		assert.Equal(t, model.BatchStatusFailed, se.Status)
		assert.Equal(t, model.ExitStatusFailed, se.ExitStatus)
		assert.Equal(t, 2, se.SkipCount(), "the skip count never exceeds the limit")
		assert.Equal(t, 6, se.WriteCount, "the first two chunks were committed")
		assert.NotEmpty(t, se.Failures)
	})
}

func TestChunkStepReadSkip(t *testing.T) {
	reader := newSliceReader(intItems(5)...)
	reader.readErrs[1] = exception.NewSkippableError("reader", "unparsable line", nil)
	writer := &recordingWriter{}
	step := item.NewChunkStep("read", item.Components(reader, nil, writer), 2,
		item.WithSkipPolicy(skip.NewDefaultSkipPolicyFactory().Create(1, nil)))

	se := newStepExecution("read")
	require.NoError(t, step.Execute(context.Background(), nil, se))
	assert.Equal(t, []interface{}{0, 2, 3, 4}, writer.written())
	assert.Equal(t, 1, se.SkipReadCount)
	assert.Equal(t, 4, se.ReadCount)
}

func TestChunkStepFilteredItems(t *testing.T) {
	evenOnly := processorFunc(func(ctx context.Context, it interface{}) (interface{}, error) {
		if it.(int)%2 != 0 {
			return nil, nil
		}
		return it, nil
	})
	writer := &recordingWriter{}
	step := item.NewChunkStep("filter", item.Components(newSliceReader(intItems(6)...), evenOnly, writer), 3)

	se := newStepExecution("filter")
	require.NoError(t, step.Execute(context.Background(), nil, se))
	assert.Equal(t, []interface{}{0, 2, 4}, writer.written())
	assert.Equal(t, 3, se.FilterCount)
	assert.Equal(t, 6, se.ProcessCount)
	assert.Equal(t, 0, se.SkipCount())
}

func TestChunkStepWriteScanSkipsOffendingItems(t *testing.T) {
	badWrite := exception.NewSkippableError("writer", "constraint violation", nil)
	writer := &recordingWriter{failOn: func(it interface{}) error {
		if it.(int) == 4 {
			return badWrite
		}
		return nil
	}}
	listener := &countingSkipListener{}
	tm := tx.NewNoOpTransactionManager()
	step := item.NewChunkStep("write", item.Components(newSliceReader(intItems(6)...), nil, writer), 3,
		item.WithTransactionManager(tm),
		item.WithSkipPolicy(skip.NewDefaultSkipPolicyFactory().Create(1, nil)),
		item.WithSkipListeners(listener))

	se := newStepExecution("write")
	require.NoError(t, step.Execute(context.Background(), nil, se))

	assert.Equal(t, []interface{}{0, 1, 2, 3, 5}, writer.written())
	assert.Equal(t, [][]interface{}{{0, 1, 2}, {3}, {5}}, writer.batches, "the failing chunk is written item by item")
	assert.Equal(t, 1, se.SkipWriteCount)
	assert.Equal(t, 2, se.RollbackCount, "the chunk and the failing single item write")
	assert.Equal(t, 5, se.WriteCount)
	assert.Equal(t, 1, listener.write)

	_, committed, _ := tm.Counts()
	assert.Equal(t, int64(3), committed)
}

func TestChunkStepWriteScanDropsSkippedItemFromContext(t *testing.T) {
	var scoped model.ExecutionContext
	writer := &recordingWriter{failOn: func(it interface{}) error {
		if it.(int) == 5 {
			return exception.NewSkippableError("writer", "balance rejected", nil)
		}
		return nil
	}}
	step := item.NewChunkStep("balance", func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
		scoped = scope.StepContext
		running := processorFunc(func(ctx context.Context, it interface{}) (interface{}, error) {
			total, _ := scoped.GetInt("balance")
			total += it.(int)
			scoped.Put("balance", total)
			return total, nil
		})
		return port.ChunkComponents{Reader: newSliceReader(10, -5, 20), Processor: running, Writer: writer}, nil
	}, 3, item.WithSkipPolicy(skip.NewDefaultSkipPolicyFactory().Create(1, nil)))

	se := newStepExecution("balance")
	require.NoError(t, step.Execute(context.Background(), nil, se))

	assert.Equal(t, []interface{}{10, 30}, writer.written())
	balance, ok := se.ExecutionContext.GetInt("balance")
	require.True(t, ok)
	assert.Equal(t, 30, balance, "the skipped amount is not kept")
	assert.Equal(t, 1, se.SkipWriteCount)
	assert.Equal(t, 3, se.ProcessCount)
	assert.Equal(t, 2, se.WriteCount)
}

func TestChunkStepFatalWriteError(t *testing.T) {
	writer := &recordingWriter{failOn: func(it interface{}) error {
		if it.(int) == 3 {
			return errors.New("disk full")
		}
		return nil
	}}
	step := item.NewChunkStep("write", item.Components(newSliceReader(intItems(6)...), nil, writer), 2,
		item.WithSkipPolicy(skip.NewDefaultSkipPolicyFactory().Create(5, nil)))

	se := newStepExecution("write")
	err := step.Execute(context.Background(), nil, se)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 2, se.WriteCount)
	assert.Equal(t, 1, se.RollbackCount)
}

func TestChunkStepRestartResumesFromLastCommit(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	failing := true
	processor := processorFunc(func(ctx context.Context, it interface{}) (interface{}, error) {
		if failing && it.(int) == 5 {
			return nil, errors.New("upstream unavailable")
		}
		return it, nil
	})
	writer := &recordingWriter{}
	newStep := func() *item.ChunkStep {
		return item.NewChunkStep("resume", func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
			return port.ChunkComponents{Reader: newSliceReader(intItems(10)...), Processor: processor, Writer: writer}, nil
		}, 2, item.WithJobRepository(repo))
	}

	first := newStepExecution("resume")
	first.JobExecutionID = "run-1"
	require.NoError(t, repo.SaveStepExecution(ctx, first))
	require.Error(t, newStep().Execute(ctx, nil, first))

	persisted, err := repo.FindStepExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, persisted.Status)
	pos, ok := persisted.ExecutionContext.GetInt(positionKey)
	require.True(t, ok)
	assert.Equal(t, 4, pos, "position of the last committed chunk")
	assert.Equal(t, []interface{}{0, 1, 2, 3}, writer.written())

	failing = false
	restarted := persisted.CopyForRestart("run-2")
	require.NoError(t, repo.SaveStepExecution(ctx, restarted))
	require.NoError(t, newStep().Execute(ctx, nil, restarted))

	assert.Equal(t, []interface{}{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, writer.written())
	assert.Equal(t, 6, restarted.ReadCount)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
}

func TestChunkStepFailedChunkDoesNotLeakContext(t *testing.T) {
	processor := processorFunc(func(ctx context.Context, it interface{}) (interface{}, error) {
		return it, nil
	})
	var scoped model.ExecutionContext
	writer := &recordingWriter{failOn: func(it interface{}) error {
		if it.(int) == 3 {
			return errors.New("fatal")
		}
		return nil
	}}
	step := item.NewChunkStep("ctx", func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
		scoped = scope.StepContext
		return port.ChunkComponents{
			Reader: newSliceReader(intItems(4)...),
			Processor: processorFunc(func(ctx context.Context, it interface{}) (interface{}, error) {
				scoped.Put("lastSeen", it)
				return processor(ctx, it)
			}),
			Writer: writer,
		}, nil
	}, 2)

	se := newStepExecution("ctx")
	require.Error(t, step.Execute(context.Background(), nil, se))

	last, ok := se.ExecutionContext.GetInt("lastSeen")
	require.True(t, ok)
	assert.Equal(t, 1, last, "only the value as of the last commit is kept")

	scoped.Put("marker", true)
	assert.True(t, se.ExecutionContext.Has("marker"), "the context is restored in place")
}

func TestChunkStepNonResumableReaderStartsOver(t *testing.T) {
	reader := newSliceReader(intItems(3)...)
	reader.resumable = false
	writer := &recordingWriter{}
	step := item.NewChunkStep("fresh", item.Components(reader, nil, writer), 5)

	se := newStepExecution("fresh")
	se.ExecutionContext.Put(positionKey, 2)
	se.ExecutionContext.Put(model.PartitionKeyKey, "partition0")

	require.NoError(t, step.Execute(context.Background(), nil, se))
	assert.Equal(t, []interface{}{0, 1, 2}, writer.written())
	assert.Equal(t, "partition0", se.ExecutionContext["partitionKey"])
}

func TestChunkStepItemCountLimit(t *testing.T) {
	writer := &recordingWriter{}
	step := item.NewChunkStep("limited", item.Components(newSliceReader(intItems(10)...), nil, writer), 3, item.WithItemCountLimit(5))

	se := newStepExecution("limited")
	require.NoError(t, step.Execute(context.Background(), nil, se))
	assert.Equal(t, 5, se.ReadCount)
	assert.Equal(t, [][]interface{}{{0, 1, 2}, {3, 4}}, writer.batches)
}

func TestChunkStepStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := &recordingWriter{}
	step := item.NewChunkStep("stop", item.Components(newSliceReader(intItems(3)...), nil, writer), 1)

	se := newStepExecution("stop")
	require.NoError(t, step.Execute(ctx, nil, se))
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, model.ExitStatusStopped, se.ExitStatus)
	assert.Empty(t, writer.batches)
}

func TestChunkStepRequiresReaderAndWriter(t *testing.T) {
	step := item.NewChunkStep("broken", item.Components(nil, nil, nil), 1)
	se := newStepExecution("broken")
	assert.Error(t, step.Execute(context.Background(), nil, se))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 1, step.ChunkSize())
	assert.False(t, step.IsAllowStartIfComplete())
}
