// Package writer provides item writers over external resources.
package writer

import (
	"context"
	"fmt"

	gormadapter "github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ArgsFunc returns the statement arguments of one item.
type ArgsFunc[T any] func(item T) ([]interface{}, error)

// GormExecWriter executes one SQL statement per item inside the chunk transaction.
type GormExecWriter[T any] struct {
	name      string
	statement string
	argsOf    ArgsFunc[T]
}

// NewGormExecWriter creates a writer running statement with the arguments argsOf derives
// from each item.
func NewGormExecWriter[T any](name, statement string, argsOf ArgsFunc[T]) *GormExecWriter[T] {
	return &GormExecWriter[T]{name: name, statement: statement, argsOf: argsOf}
}

func (w *GormExecWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error { return nil }

// Write executes the statement for every item. The first failure aborts the chunk.
func (w *GormExecWriter[T]) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	db, err := gormadapter.DBFromTx(t)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("GormExecWriter '%s' needs a gorm transaction", w.name), err, false, false)
	}
	db = db.WithContext(ctx)
	for i, raw := range items {
		item, ok := raw.(T)
		if !ok {
			return exception.NewBatchErrorf("writer", "GormExecWriter '%s': unexpected item type %T at index %d", w.name, raw, i)
		}
		args, err := w.argsOf(item)
		if err != nil {
			return exception.NewSkippableError("writer", fmt.Sprintf("GormExecWriter '%s': invalid item at index %d", w.name, i), err)
		}
		if err := db.Exec(w.statement, args...).Error; err != nil {
			return exception.NewBatchError("writer", fmt.Sprintf("GormExecWriter '%s': statement failed at index %d", w.name, i), err, false, true)
		}
	}
	logger.Debugf("GormExecWriter '%s': executed %d statements.", w.name, len(items))
	return nil
}

func (w *GormExecWriter[T]) Close(ctx context.Context) error { return nil }

func (w *GormExecWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

// GormUpsertWriter inserts each chunk in one statement, updating UpdateColumns of the rows
// that conflict on ConflictColumns. With no update columns conflicting rows are kept.
type GormUpsertWriter[T any] struct {
	name            string
	tableName       string
	conflictColumns []string
	updateColumns   []string
}

// NewGormUpsertWriter creates an upsert writer. An empty tableName lets gorm derive the
// table from T.
func NewGormUpsertWriter[T any](name, tableName string, conflictColumns, updateColumns []string) *GormUpsertWriter[T] {
	return &GormUpsertWriter[T]{
		name:            name,
		tableName:       tableName,
		conflictColumns: conflictColumns,
		updateColumns:   updateColumns,
	}
}

func (w *GormUpsertWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error { return nil }

// Write upserts the chunk.
func (w *GormUpsertWriter[T]) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	if len(items) == 0 {
		return nil
	}
	gormTx, err := gormadapter.AsGormTx(t)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("GormUpsertWriter '%s' needs a gorm transaction", w.name), err, false, false)
	}
	rows := make([]T, 0, len(items))
	for i, raw := range items {
		row, ok := raw.(T)
		if !ok {
			return exception.NewBatchErrorf("writer", "GormUpsertWriter '%s': unexpected item type %T at index %d", w.name, raw, i)
		}
		rows = append(rows, row)
	}
	affected, err := gormTx.ExecuteUpsert(ctx, &rows, w.tableName, w.conflictColumns, w.updateColumns)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("GormUpsertWriter '%s': failed to upsert %d rows", w.name, len(rows)), err, false, true)
	}
	logger.Debugf("GormUpsertWriter '%s': upserted %d rows (%d affected).", w.name, len(rows), affected)
	return nil
}

func (w *GormUpsertWriter[T]) Close(ctx context.Context) error { return nil }

func (w *GormUpsertWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	return model.NewExecutionContext(), nil
}

var (
	_ port.ItemWriter = (*GormExecWriter[struct{}])(nil)
	_ port.ItemWriter = (*GormUpsertWriter[struct{}])(nil)
)
