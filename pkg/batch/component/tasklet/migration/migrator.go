package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// migrator runs golang-migrate against one database connection.
type migrator struct {
	conn  database.DBConnection
	table string
}

// NewMigrator creates a Migrator for conn recording versions in table.
// An empty table uses DefaultMigrationsTable.
func NewMigrator(conn database.DBConnection, table string) Migrator {
	if table == "" {
		table = DefaultMigrationsTable
	}
	return &migrator{conn: conn, table: table}
}

func (m *migrator) databaseDriver(sqlDB *sql.DB) (migratedb.Driver, error) {
	switch m.conn.Type() {
	case "postgres", "redshift":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: m.table})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: m.table})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: m.table})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
}

func (m *migrator) open(fsys fs.FS, dir string) (*migrate.Migrate, error) {
	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration directory '%s': %w", dir, err)
	}
	driver, err := m.databaseDriver(sqlDB)
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mi, err := migrate.NewWithInstance("iofs", source, m.conn.Type(), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mi, nil
}

// run opens a migrate instance, applies fn and closes it. Cancelling ctx stops the
// run after the migration in progress.
func (m *migrator) run(ctx context.Context, fsys fs.FS, dir, command string, fn func(*migrate.Migrate) error) (SchemaVersion, error) {
	logger.Infof("Executing migration '%s' (connection: %s, dir: %s, table: %s)", command, m.conn.Name(), dir, m.table)
	mi, err := m.open(fsys, dir)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer func() {
		if srcErr, dbErr := mi.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("Migration: failed to close migrate instance: %v, %v", srcErr, dbErr)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case mi.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	if err := fn(mi); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaVersion{}, fmt.Errorf("migration '%s' failed (connection: %s, dir: %s): %w", command, m.conn.Name(), dir, err)
	}
	if err := ctx.Err(); err != nil {
		return SchemaVersion{}, err
	}

	var sv SchemaVersion
	version, dirty, err := mi.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return SchemaVersion{}, fmt.Errorf("failed to read schema version: %w", err)
	default:
		sv = SchemaVersion{Version: version, Dirty: dirty, Applied: true}
	}
	logger.Infof("Migration '%s' completed (version: %d, dirty: %t).", command, sv.Version, sv.Dirty)
	return sv, nil
}

func (m *migrator) Up(ctx context.Context, fsys fs.FS, dir string) (SchemaVersion, error) {
	return m.run(ctx, fsys, dir, CommandUp, func(mi *migrate.Migrate) error { return mi.Up() })
}

func (m *migrator) Down(ctx context.Context, fsys fs.FS, dir string) (SchemaVersion, error) {
	return m.run(ctx, fsys, dir, CommandDown, func(mi *migrate.Migrate) error { return mi.Down() })
}

func (m *migrator) Steps(ctx context.Context, fsys fs.FS, dir string, n int) (SchemaVersion, error) {
	return m.run(ctx, fsys, dir, fmt.Sprintf("steps %d", n), func(mi *migrate.Migrate) error { return mi.Steps(n) })
}
