package item

import (
	"context"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

// FilteringReader returns only the items of the delegate accepted by Accept.
// Partitioned steps use it to apply a partition selector to a shared source.
type FilteringReader struct {
	Delegate port.ItemReader
	Accept   func(item interface{}) bool
}

// NewFilteringReader wraps delegate.
func NewFilteringReader(delegate port.ItemReader, accept func(item interface{}) bool) *FilteringReader {
	return &FilteringReader{Delegate: delegate, Accept: accept}
}

func (r *FilteringReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	return r.Delegate.Open(ctx, ec)
}

// Read skips the items rejected by Accept. Rejected items are not counted as read.
func (r *FilteringReader) Read(ctx context.Context) (interface{}, error) {
	for {
		item, err := r.Delegate.Read(ctx)
		if err != nil {
			return nil, err
		}
		if r.Accept == nil || r.Accept(item) {
			return item, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (r *FilteringReader) Close(ctx context.Context) error {
	return r.Delegate.Close(ctx)
}

func (r *FilteringReader) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return r.Delegate.GetExecutionContext(ctx)
}

// IsResumable follows the delegate.
func (r *FilteringReader) IsResumable() bool {
	if ra, ok := r.Delegate.(port.RestartAware); ok {
		return ra.IsResumable()
	}
	return true
}

var _ port.ItemReader = (*FilteringReader)(nil)
