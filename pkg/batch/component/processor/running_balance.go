// Package processor provides item processors that keep running state in the step context.
package processor

import (
	"context"
	"fmt"

	"github.com/tigerroll/batchflow/pkg/batch/component/accumulator"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// DefaultBalanceKey is the step context key of the running balance.
const DefaultBalanceKey = "currentBalance"

// RunningBalanceProcessor adds the amount of each item to a balance kept in the step
// context and hands the item together with the new balance to Apply.
type RunningBalanceProcessor struct {
	balance  *accumulator.Scoped[float64]
	amountOf func(item interface{}) (float64, error)
	apply    func(item interface{}, balance float64) (interface{}, error)
}

// NewRunningBalanceProcessor binds the balance to key of the scope's step context.
// apply may be nil, in which case items pass through unchanged.
func NewRunningBalanceProcessor(scope port.StepScope, key string, amountOf func(item interface{}) (float64, error), apply func(item interface{}, balance float64) (interface{}, error)) (*RunningBalanceProcessor, error) {
	if key == "" {
		key = DefaultBalanceKey
	}
	if amountOf == nil {
		return nil, fmt.Errorf("running balance processor for '%s' needs an amount function", key)
	}
	balance, err := accumulator.Bind(scope.StepContext, key, 0.0)
	if err != nil {
		return nil, err
	}
	return &RunningBalanceProcessor{balance: balance, amountOf: amountOf, apply: apply}, nil
}

// Process implements port.ItemProcessor.
func (p *RunningBalanceProcessor) Process(ctx context.Context, item interface{}) (interface{}, error) {
	amount, err := p.amountOf(item)
	if err != nil {
		return nil, err
	}
	next, err := p.balance.Update(func(current float64) float64 { return current + amount })
	if err != nil {
		return nil, err
	}
	logger.Debugf("Running balance '%s' is now %.2f.", p.balance.Key(), next)
	if p.apply == nil {
		return item, nil
	}
	return p.apply(item, next)
}

// Balance returns the current balance.
func (p *RunningBalanceProcessor) Balance() (float64, error) {
	return p.balance.Get()
}

var _ port.ItemProcessor = (*RunningBalanceProcessor)(nil)
