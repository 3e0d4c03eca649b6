// Package item provides reusable item readers, processors and writers.
package item

import (
	"context"
	"fmt"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

// ListItemReader reads items from an in-memory slice. Its position is saved under
// "<name>.index" so that a restarted step resumes after the last committed item.
type ListItemReader struct {
	name  string
	items []interface{}
	index int
}

// NewListItemReader creates a reader over items. name scopes its context key.
func NewListItemReader(name string, items []interface{}) *ListItemReader {
	if name == "" {
		name = "listItemReader"
	}
	return &ListItemReader{name: name, items: items}
}

func (r *ListItemReader) indexKey() string {
	return fmt.Sprintf("%s.index", r.name)
}

// Open restores the read position from ec.
func (r *ListItemReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.index = 0
	if idx, ok := ec.GetInt(r.indexKey()); ok {
		if idx < 0 || idx > len(r.items) {
			return fmt.Errorf("saved index %d is out of range for %d items", idx, len(r.items))
		}
		r.index = idx
	}
	return nil
}

// Read returns the next item or port.ErrNoMoreItems.
func (r *ListItemReader) Read(ctx context.Context) (interface{}, error) {
	if r.index >= len(r.items) {
		return nil, port.ErrNoMoreItems
	}
	item := r.items[r.index]
	r.index++
	return item, nil
}

func (r *ListItemReader) Close(ctx context.Context) error { return nil }

// GetExecutionContext returns the current read position.
func (r *ListItemReader) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.indexKey(), r.index)
	return ec, nil
}

// IsResumable implements port.RestartAware.
func (r *ListItemReader) IsResumable() bool { return true }

var (
	_ port.ItemReader   = (*ListItemReader)(nil)
	_ port.RestartAware = (*ListItemReader)(nil)
)
