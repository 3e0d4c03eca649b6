package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// NoOpItemWriter discards every item.
type NoOpItemWriter struct{}

// NewNoOpItemWriter creates a new instance of NoOpItemWriter.
func NewNoOpItemWriter() *NoOpItemWriter { return &NoOpItemWriter{} }

func (w *NoOpItemWriter) Open(ctx context.Context, ec model.ExecutionContext) error { return nil }
func (w *NoOpItemWriter) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	logger.Debugf("NoOpItemWriter: discarding %d items.", len(items))
	return nil
}
func (w *NoOpItemWriter) Close(ctx context.Context) error { return nil }
func (w *NoOpItemWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

// CollectingItemWriter keeps the written items in memory. It is safe for concurrent use,
// so one instance may collect the output of several partitions.
type CollectingItemWriter struct {
	mu      sync.Mutex
	items   []interface{}
	batches int
}

// NewCollectingItemWriter creates a new instance of CollectingItemWriter.
func NewCollectingItemWriter() *CollectingItemWriter { return &CollectingItemWriter{} }

func (w *CollectingItemWriter) Open(ctx context.Context, ec model.ExecutionContext) error { return nil }

// Write appends items.
func (w *CollectingItemWriter) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, items...)
	w.batches++
	return nil
}

func (w *CollectingItemWriter) Close(ctx context.Context) error { return nil }

func (w *CollectingItemWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

// Items returns a copy of everything written so far.
func (w *CollectingItemWriter) Items() []interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]interface{}(nil), w.items...)
}

// Batches returns the number of Write calls.
func (w *CollectingItemWriter) Batches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batches
}

// ExecutionContextItemWriter counts the written items in the step context under key.
// It is primarily used for testing and debugging.
type ExecutionContextItemWriter struct {
	key   string
	count int
}

// NewExecutionContextItemWriter creates a new instance of ExecutionContextItemWriter.
func NewExecutionContextItemWriter(key string) *ExecutionContextItemWriter {
	if key == "" {
		key = "writer.writeCount"
	}
	return &ExecutionContextItemWriter{key: key}
}

// Open resumes the count saved in ec.
func (w *ExecutionContextItemWriter) Open(ctx context.Context, ec model.ExecutionContext) error {
	w.count, _ = ec.GetInt(w.key)
	return nil
}

func (w *ExecutionContextItemWriter) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	w.count += len(items)
	return nil
}

func (w *ExecutionContextItemWriter) Close(ctx context.Context) error { return nil }

// GetExecutionContext returns the count, merged into the step context at each commit.
func (w *ExecutionContextItemWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(w.key, w.count)
	return ec, nil
}

var (
	_ port.ItemWriter = (*NoOpItemWriter)(nil)
	_ port.ItemWriter = (*CollectingItemWriter)(nil)
	_ port.ItemWriter = (*ExecutionContextItemWriter)(nil)
)
