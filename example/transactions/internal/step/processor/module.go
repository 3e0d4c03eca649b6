// Package processor registers the running balance processor of the transactions job.
package processor

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/example/transactions/internal/domain/entity"
	"github.com/tigerroll/batchflow/pkg/batch/component/processor"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
)

// RunningBalanceProcessorRef is the JSL ref of the processor. Its "key" property names the
// step context entry holding the balance.
const RunningBalanceProcessorRef = "runningBalanceProcessor"

func amountOf(item interface{}) (float64, error) {
	t, ok := item.(entity.Transaction)
	if !ok {
		return 0, fmt.Errorf("expected entity.Transaction, got %T", item)
	}
	return t.Amount, nil
}

func withBalance(item interface{}, balance float64) (interface{}, error) {
	t := item.(entity.Transaction)
	t.Balance = balance
	return t, nil
}

// NewRunningBalanceProcessor creates the processor for the step of scope.
func NewRunningBalanceProcessor(scope port.StepScope, key string) (*processor.RunningBalanceProcessor, error) {
	return processor.NewRunningBalanceProcessor(scope, key, amountOf, withBalance)
}

// RegisterBuilders registers the processor.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterProcessor(RunningBalanceProcessorRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemProcessor, error) {
		return NewRunningBalanceProcessor(scope, properties["key"])
	})
}

var Module = fx.Invoke(RegisterBuilders)
