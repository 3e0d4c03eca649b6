// Package writer registers the writer storing running balances.
package writer

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/example/transactions/internal/domain/entity"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
)

// BalanceWriterRef is the JSL ref of the balance writer.
const BalanceWriterRef = "balanceWriter"

const updateBalance = "UPDATE transactions SET balance = ? WHERE id = ?"

// NewBalanceWriter updates the balance column of every transaction of a chunk.
func NewBalanceWriter(name string) *writer.GormExecWriter[entity.Transaction] {
	return writer.NewGormExecWriter[entity.Transaction](name, updateBalance, func(t entity.Transaction) ([]interface{}, error) {
		return []interface{}{t.Balance, t.ID}, nil
	})
}

// RegisterBuilders registers the writer.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterWriter(BalanceWriterRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemWriter, error) {
		return NewBalanceWriter(scope.StepName), nil
	})
}

var Module = fx.Invoke(RegisterBuilders)
