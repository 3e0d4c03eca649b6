package processor

import (
	"context"
	"fmt"

	"github.com/tigerroll/batchflow/pkg/batch/component/accumulator"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
)

// ExtremumMode selects whether the highest or the lowest value is kept.
type ExtremumMode string

const (
	Max ExtremumMode = "max"
	Min ExtremumMode = "min"
)

// Record is the item identity and value held as the current extremum.
type Record struct {
	Key   string  `yaml:"key" json:"key"`
	Value float64 `yaml:"value" json:"value"`
	Set   bool    `yaml:"set" json:"set"`
}

// RunningExtremumProcessor tracks the record with the highest (or lowest) value seen by a
// step. Items pass through unchanged; ties keep the first record.
type RunningExtremumProcessor struct {
	mode    ExtremumMode
	record  *accumulator.Scoped[Record]
	keyOf   func(item interface{}) string
	valueOf func(item interface{}) (float64, error)
}

// NewRunningExtremumProcessor binds the record to key of the scope's step context.
func NewRunningExtremumProcessor(scope port.StepScope, key string, mode ExtremumMode, keyOf func(item interface{}) string, valueOf func(item interface{}) (float64, error)) (*RunningExtremumProcessor, error) {
	if mode != Max && mode != Min {
		return nil, fmt.Errorf("unknown extremum mode '%s'", mode)
	}
	if keyOf == nil || valueOf == nil {
		return nil, fmt.Errorf("running %s processor for '%s' needs key and value functions", mode, key)
	}
	record, err := accumulator.Bind(scope.StepContext, key, Record{})
	if err != nil {
		return nil, err
	}
	return &RunningExtremumProcessor{mode: mode, record: record, keyOf: keyOf, valueOf: valueOf}, nil
}

// Process implements port.ItemProcessor.
func (p *RunningExtremumProcessor) Process(ctx context.Context, item interface{}) (interface{}, error) {
	value, err := p.valueOf(item)
	if err != nil {
		return nil, err
	}
	_, err = p.record.Update(func(current Record) Record {
		if current.Set && !p.better(value, current.Value) {
			return current
		}
		return Record{Key: p.keyOf(item), Value: value, Set: true}
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (p *RunningExtremumProcessor) better(candidate, current float64) bool {
	if p.mode == Max {
		return candidate > current
	}
	return candidate < current
}

// Current returns the record held so far.
func (p *RunningExtremumProcessor) Current() (Record, error) {
	return p.record.Get()
}

var _ port.ItemProcessor = (*RunningExtremumProcessor)(nil)
