// Package database defines the named database connections used by transaction managers,
// SQL readers and SQL writers.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/batchflow/pkg/batch/adapter/database/config"
)

// DBConnection represents an open, named database connection.
type DBConnection interface {
	// Name returns the configuration name of the connection (e.g. "default").
	Name() string
	// Type returns the database type: "sqlite", "mysql" or "postgres".
	Type() string
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// Close closes the connection.
	Close() error
}

// DBConnectionResolver resolves a connection by configuration name, reconnecting when the
// pooled connection no longer answers.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider opens and caches the connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and re-establishes the connection with the specified name.
	ForceReconnect(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider.
	Type() string
}

// DBProviderGroup is the Fx value group collecting every DBProvider.
const DBProviderGroup = "db_providers"
