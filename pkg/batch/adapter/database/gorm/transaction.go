package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a gorm transaction.
type GormTxAdapter struct {
	id     string
	db     *gorm.DB
	dbName string
}

var _ tx.Tx = (*GormTxAdapter)(nil)

// ID identifies the transaction in logs.
func (t *GormTxAdapter) ID() string { return t.id }

// DB returns the gorm handle bound to the transaction.
func (t *GormTxAdapter) DB() *gorm.DB { return t.db }

// DBName is the name of the connection the transaction runs on.
func (t *GormTxAdapter) DBName() string { return t.dbName }

// ExecuteUpdate runs a CREATE, UPDATE or DELETE of model inside the transaction.
// tableName overrides the table gorm infers from model.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		result = db.Model(model).Where(query).Updates(model)
	case "DELETE":
		if query != nil {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsert inserts model, updating updateColumns when a row with the same
// conflictColumns exists. With no updateColumns conflicting rows are left unchanged.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Savepoint marks a savepoint in the transaction.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint undoes the work done after the named savepoint.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// AsGormTx returns t as a transaction begun by a GormTransactionManager.
func AsGormTx(t tx.Tx) (*GormTxAdapter, error) {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return nil, fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTx, nil
}

// DBFromTx returns the gorm handle of a transaction begun by a GormTransactionManager.
func DBFromTx(t tx.Tx) (*gorm.DB, error) {
	gormTx, err := AsGormTx(t)
	if err != nil {
		return nil, err
	}
	return gormTx.db, nil
}

// GormTransactionManager implements tx.TransactionManager on one named connection.
// The connection is resolved on every Begin so that a dropped pool is re-established.
type GormTransactionManager struct {
	dbResolver database.DBConnectionResolver
	dbName     string
}

var _ tx.TransactionManager = (*GormTransactionManager)(nil)

// NewGormTransactionManager creates a transaction manager for the connection dbName.
func NewGormTransactionManager(dbResolver database.DBConnectionResolver, dbName string) *GormTransactionManager {
	return &GormTransactionManager{dbResolver: dbResolver, dbName: dbName}
}

// Begin starts a transaction. The first non-nil opts entry sets its isolation level.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn, err := m.dbResolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
	}
	adapter, ok := conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("connection '%s' is not a gorm connection (%T)", m.dbName, conn)
	}

	var txOpts *sql.TxOptions
	for _, o := range opts {
		if o != nil {
			txOpts = o
			break
		}
	}
	if txOpts != nil && txOpts.Isolation == sql.LevelDefault && !txOpts.ReadOnly {
		txOpts = nil
	}

	gormTx := adapter.GetGormDB().WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.dbName, gormTx.Error)
	}
	return &GormTxAdapter{id: uuid.NewString(), db: gormTx, dbName: m.dbName}, nil
}

// Commit commits the transaction.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	db, err := DBFromTx(t)
	if err != nil {
		return err
	}
	return db.Commit().Error
}

// Rollback rolls the transaction back.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	db, err := DBFromTx(t)
	if err != nil {
		return err
	}
	return db.Rollback().Error
}
