package partitioner_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/component/partitioner"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

func TestGridPartitioner(t *testing.T) {
	partitions, err := partitioner.NewGridPartitioner().Partition(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, partitions, 3)
	for _, name := range []string{"partition0", "partition1", "partition2"} {
		assert.Contains(t, partitions, name)
	}

	_, err = partitioner.NewGridPartitioner().Partition(context.Background(), 0)
	assert.Error(t, err)
}

func TestHashModSelectorIsDisjointAndComplete(t *testing.T) {
	for _, grid := range []int{1, 2, 3, 7} {
		keys := make([]string, 200)
		for i := range keys {
			keys[i] = fmt.Sprintf("player-%d", i)
		}

		owners := make(map[string]int)
		for idx := 0; idx < grid; idx++ {
			sel, err := partitioner.NewHashModSelector(idx, grid)
			require.NoError(t, err)
			for _, k := range keys {
				if sel.Selects(k) {
					owners[k]++
				}
			}
		}
		assert.Len(t, owners, len(keys), "grid %d: every key is selected", grid)
		for k, n := range owners {
			assert.Equal(t, 1, n, "grid %d: key %s selected once", grid, k)
		}
	}
}

func TestNewHashModSelectorRejectsInvalidPartition(t *testing.T) {
	_, err := partitioner.NewHashModSelector(3, 3)
	assert.Error(t, err)
	_, err = partitioner.NewHashModSelector(0, 0)
	assert.Error(t, err)
}

func TestSelectorFromScope(t *testing.T) {
	se := model.NewStepExecution(model.NewID(), nil, "score:partition2")
	se.ExecutionContext.Put(model.PartitionIndexKey, 2)
	se.ExecutionContext.Put(model.PartitionCountKey, 3)

	sel, err := partitioner.SelectorFromScope(port.NewStepScope(nil, se))
	require.NoError(t, err)
	assert.Equal(t, 2, sel.Index)
	assert.Equal(t, 3, sel.Count)

	accept := sel.Accept(func(item interface{}) string { return item.(string) })
	assert.Equal(t, partitioner.PartitionOf("alice", 3) == 2, accept("alice"))

	plain, err := partitioner.SelectorFromScope(port.NewStepScope(nil, model.NewStepExecution(model.NewID(), nil, "plain")))
	require.NoError(t, err)
	assert.True(t, plain.Selects("anything"))
}

func TestGridPartitionerIsRegistered(t *testing.T) {
	registry := jsl.NewRegistry()
	partitioner.RegisterBuilders(registry)

	build, err := registry.Partitioner(partitioner.GridPartitionerRef)
	require.NoError(t, err)
	p, err := build(nil)
	require.NoError(t, err)
	assert.IsType(t, &partitioner.GridPartitioner{}, p)
}
