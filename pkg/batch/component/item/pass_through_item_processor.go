package item

import (
	"context"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
)

// PassThroughItemProcessor returns every item unchanged.
type PassThroughItemProcessor struct{}

// NewPassThroughItemProcessor creates a new instance of PassThroughItemProcessor.
func NewPassThroughItemProcessor() *PassThroughItemProcessor {
	return &PassThroughItemProcessor{}
}

func (p *PassThroughItemProcessor) Process(ctx context.Context, item interface{}) (interface{}, error) {
	return item, nil
}

// ProcessorFunc adapts a function to port.ItemProcessor.
type ProcessorFunc func(ctx context.Context, item interface{}) (interface{}, error)

func (f ProcessorFunc) Process(ctx context.Context, item interface{}) (interface{}, error) {
	return f(ctx, item)
}

var (
	_ port.ItemProcessor = (*PassThroughItemProcessor)(nil)
	_ port.ItemProcessor = ProcessorFunc(nil)
)
