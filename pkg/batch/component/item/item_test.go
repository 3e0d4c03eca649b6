package item_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/component/item"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
)

func readAll(t *testing.T, r port.ItemReader) []interface{} {
	t.Helper()
	var out []interface{}
	for {
		it, err := r.Read(context.Background())
		if err == port.ErrNoMoreItems {
			return out
		}
		require.NoError(t, err)
		out = append(out, it)
	}
}

func TestListItemReaderResumes(t *testing.T) {
	ctx := context.Background()
	r := item.NewListItemReader("amounts", []interface{}{10, -5, 20})
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	first, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, first)

	saved, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, saved["amounts.index"])

	resumed := item.NewListItemReader("amounts", []interface{}{10, -5, 20})
	require.NoError(t, resumed.Open(ctx, saved.DeepCopy()))
	assert.Equal(t, []interface{}{-5, 20}, readAll(t, resumed))
	assert.True(t, resumed.IsResumable())

	bad := model.NewExecutionContext()
	bad.Put("amounts.index", 9)
	assert.Error(t, item.NewListItemReader("amounts", nil).Open(ctx, bad))
}

func TestFilteringReader(t *testing.T) {
	ctx := context.Background()
	delegate := item.NewListItemReader("", []interface{}{1, 2, 3, 4, 5, 6})
	r := item.NewFilteringReader(delegate, func(it interface{}) bool { return it.(int)%3 == 0 })

	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	assert.Equal(t, []interface{}{3, 6}, readAll(t, r))
	assert.True(t, r.IsResumable())

	ec, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, ec["listItemReader.index"])
	require.NoError(t, r.Close(ctx))
}

func TestWriters(t *testing.T) {
	ctx := context.Background()
	txn, err := tx.NewNoOpTransactionManager().Begin(ctx)
	require.NoError(t, err)

	collect := item.NewCollectingItemWriter()
	require.NoError(t, collect.Write(ctx, txn, []interface{}{"a", "b"}))
	require.NoError(t, collect.Write(ctx, txn, []interface{}{"c"}))
	assert.Equal(t, []interface{}{"a", "b", "c"}, collect.Items())
	assert.Equal(t, 2, collect.Batches())

	counter := item.NewExecutionContextItemWriter("")
	saved := model.NewExecutionContext()
	saved.Put("writer.writeCount", 4.0)
	require.NoError(t, counter.Open(ctx, saved))
	require.NoError(t, counter.Write(ctx, txn, []interface{}{1, 2}))
	ec, err := counter.GetExecutionContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, ec["writer.writeCount"])

	assert.NoError(t, item.NewNoOpItemWriter().Write(ctx, txn, []interface{}{1}))

	out, err := item.NewPassThroughItemProcessor().Process(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestRegisterBuilders(t *testing.T) {
	registry := jsl.NewRegistry()
	item.RegisterBuilders(registry)
	ctx := context.Background()

	proc, err := registry.Processor(item.PassThroughProcessorRef)
	require.NoError(t, err)
	p, err := proc(ctx, port.StepScope{}, nil)
	require.NoError(t, err)
	out, err := p.Process(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	for _, ref := range []string{item.NoOpWriterRef, item.ExecutionContextItemWriterRef} {
		build, err := registry.Writer(ref)
		require.NoError(t, err)
		w, err := build(ctx, port.StepScope{}, map[string]string{"key": "written"})
		require.NoError(t, err)
		assert.NotNil(t, w)
	}
}
