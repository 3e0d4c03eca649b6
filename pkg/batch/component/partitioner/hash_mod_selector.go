package partitioner

import (
	"fmt"
	"hash/fnv"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
)

// HashModSelector selects the keys whose FNV-1a hash modulo Count equals Index.
// For a fixed Count every key is selected by exactly one index.
type HashModSelector struct {
	Index int
	Count int
}

// NewHashModSelector creates a selector for partition index of count.
func NewHashModSelector(index, count int) (*HashModSelector, error) {
	if count < 1 || index < 0 || index >= count {
		return nil, fmt.Errorf("invalid partition %d of %d", index, count)
	}
	return &HashModSelector{Index: index, Count: count}, nil
}

// SelectorFromScope builds the selector of the partition a step scope belongs to.
// Outside a partitioned step it returns a selector that accepts everything.
func SelectorFromScope(scope port.StepScope) (*HashModSelector, error) {
	if !scope.IsPartitioned() {
		return &HashModSelector{Index: 0, Count: 1}, nil
	}
	index, _ := scope.PartitionIndex()
	count, _ := scope.PartitionCount()
	return NewHashModSelector(index, count)
}

// PartitionOf returns the partition index of key for count partitions.
func PartitionOf(key string, count int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(count))
}

// Selects reports whether key belongs to this partition.
func (s *HashModSelector) Selects(key string) bool {
	if s.Count <= 1 {
		return true
	}
	return PartitionOf(key, s.Count) == s.Index
}

// Accept returns a predicate for item.FilteringReader that selects items by keyOf(item).
func (s *HashModSelector) Accept(keyOf func(item interface{}) string) func(item interface{}) bool {
	return func(item interface{}) bool {
		return s.Selects(keyOf(item))
	}
}
