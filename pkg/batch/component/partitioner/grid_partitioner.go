// Package partitioner provides partitioners and the partition selectors readers use
// to pick their share of a data set.
package partitioner

import (
	"context"
	"fmt"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

// GridPartitioner creates gridSize empty partition contexts named partition0..partitionN-1.
// The coordinator stamps index, count and key on each of them.
type GridPartitioner struct{}

// NewGridPartitioner creates a new instance of GridPartitioner.
func NewGridPartitioner() *GridPartitioner {
	return &GridPartitioner{}
}

// Partition implements port.Partitioner.
func (p *GridPartitioner) Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error) {
	if gridSize < 1 {
		return nil, fmt.Errorf("grid size must be at least 1, got %d", gridSize)
	}
	partitions := make(map[string]model.ExecutionContext, gridSize)
	for i := 0; i < gridSize; i++ {
		partitions[model.PartitionName(i)] = model.NewExecutionContext()
	}
	return partitions, nil
}

var _ port.Partitioner = (*GridPartitioner)(nil)
