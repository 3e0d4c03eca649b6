package item_test

import (
	"context"
	"sync"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
)

const positionKey = "sliceReader.position"

// sliceReader reads from a slice and saves its position in the step context.
type sliceReader struct {
	items     []interface{}
	pos       int
	readErrs  map[int]error
	resumable bool
	closed    bool
}

func newSliceReader(items ...interface{}) *sliceReader {
	return &sliceReader{items: items, readErrs: map[int]error{}, resumable: true}
}

func intItems(n int) []interface{} {
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func (r *sliceReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	if pos, ok := ec.GetInt(positionKey); ok {
		r.pos = pos
	}
	return nil
}

func (r *sliceReader) Read(ctx context.Context) (interface{}, error) {
	if r.pos >= len(r.items) {
		return nil, port.ErrNoMoreItems
	}
	idx := r.pos
	r.pos++
	if err, ok := r.readErrs[idx]; ok {
		return nil, err
	}
	return r.items[idx], nil
}

func (r *sliceReader) Close(ctx context.Context) error {
	r.closed = true
	return nil
}

func (r *sliceReader) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(positionKey, r.pos)
	return ec, nil
}

func (r *sliceReader) IsResumable() bool { return r.resumable }

// recordingWriter keeps every committed batch. A batch containing an item for which
// failOn returns an error is rejected as a whole.
type recordingWriter struct {
	mu      sync.Mutex
	batches [][]interface{}
	failOn  func(item interface{}) error
	txIDs   []string
}

func (w *recordingWriter) Open(ctx context.Context, ec model.ExecutionContext) error { return nil }

func (w *recordingWriter) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn != nil {
		for _, item := range items {
			if err := w.failOn(item); err != nil {
				return err
			}
		}
	}
	w.batches = append(w.batches, append([]interface{}(nil), items...))
	w.txIDs = append(w.txIDs, t.ID())
	return nil
}

func (w *recordingWriter) Close(ctx context.Context) error { return nil }

func (w *recordingWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

func (w *recordingWriter) written() []interface{} {
	var all []interface{}
	for _, b := range w.batches {
		all = append(all, b...)
	}
	return all
}

type processorFunc func(ctx context.Context, item interface{}) (interface{}, error)

func (f processorFunc) Process(ctx context.Context, item interface{}) (interface{}, error) {
	return f(ctx, item)
}

type countingSkipListener struct {
	read, process, write int
}

func (l *countingSkipListener) OnSkipInRead(ctx context.Context, err error) { l.read++ }
func (l *countingSkipListener) OnSkipInProcess(ctx context.Context, item interface{}, err error) {
	l.process++
}
func (l *countingSkipListener) OnSkipInWrite(ctx context.Context, item interface{}, err error) {
	l.write++
}
