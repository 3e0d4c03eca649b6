// Package tx provides the transaction abstraction used as the chunk commit boundary.
// A chunk's writes run inside one Tx; the engine commits it after a successful write and
// rolls it back otherwise. Backends (gorm, no-op) implement TransactionManager.
package tx

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Tx represents an ongoing transaction. Backends expose their native handle through their
// own accessor (see the gorm adapter's DBFromTx).
type Tx interface {
	// ID identifies the transaction in logs.
	ID() string
}

// TransactionManager is an interface that manages the lifecycle of transactions (begin, commit, rollback).
type TransactionManager interface {
	// Begin starts a new transaction.
	// opts: Optional arguments specifying transaction options (e.g., isolation level, read-only flag).
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits the specified transaction, persisting all changes made within that transaction.
	Commit(tx Tx) error
	// Rollback rolls back the specified transaction, undoing all changes made within that transaction.
	Rollback(tx Tx) error
}

type txKey struct{}

// WithTx returns a context carrying tx. Tasklets receive their transaction this way.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction stored by WithTx.
func FromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	return tx, ok && tx != nil
}

// --- No-op implementation ---

type noOpTx struct {
	id string
}

func (t *noOpTx) ID() string { return t.id }

// NoOpTransactionManager hands out transactions that do nothing. It is used when a step's
// writer manages its own atomicity (files, in-memory collections) and records how many
// transactions were committed and rolled back.
type NoOpTransactionManager struct {
	begun      atomic.Int64
	committed  atomic.Int64
	rolledBack atomic.Int64
}

var _ TransactionManager = (*NoOpTransactionManager)(nil)

// NewNoOpTransactionManager creates a NoOpTransactionManager.
func NewNoOpTransactionManager() *NoOpTransactionManager {
	return &NoOpTransactionManager{}
}

// Begin starts a no-op transaction.
func (m *NoOpTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	m.begun.Add(1)
	return &noOpTx{id: uuid.NewString()}, nil
}

// Commit records a commit.
func (m *NoOpTransactionManager) Commit(tx Tx) error {
	m.committed.Add(1)
	return nil
}

// Rollback records a rollback.
func (m *NoOpTransactionManager) Rollback(tx Tx) error {
	m.rolledBack.Add(1)
	return nil
}

// Counts returns the number of begun, committed and rolled back transactions.
func (m *NoOpTransactionManager) Counts() (begun, committed, rolledBack int64) {
	return m.begun.Load(), m.committed.Load(), m.rolledBack.Load()
}

// ParseIsolationLevel converts a configuration value such as "READ_COMMITTED" to
// sql.IsolationLevel. Unknown values select the database default.
func ParseIsolationLevel(level string) sql.IsolationLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "WRITE_COMMITTED":
		return sql.LevelWriteCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
