package migration

import (
	"context"
	"io/fs"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
)

// DefaultMigrationsTable is the table golang-migrate records the applied version in.
const DefaultMigrationsTable = "batch_app_migrations"

// Commands accepted by the migration tasklet.
const (
	CommandUp   = "up"
	CommandDown = "down"
)

// SchemaVersion is the schema version left by a migration run. Applied is false when
// no migration is applied.
type SchemaVersion struct {
	Version uint
	Dirty   bool
	Applied bool
}

// Migrator applies the migration scripts found under dir in fsys.
type Migrator interface {
	// Up applies all pending migrations.
	Up(ctx context.Context, fsys fs.FS, dir string) (SchemaVersion, error)
	// Down rolls back all applied migrations.
	Down(ctx context.Context, fsys fs.FS, dir string) (SchemaVersion, error)
	// Steps applies n migrations, or rolls back -n when n is negative.
	Steps(ctx context.Context, fsys fs.FS, dir string, n int) (SchemaVersion, error)
}

// ConnectionResolver resolves the connection a migration runs on and re-opens it
// afterwards. golang-migrate closes the *sql.DB it was given.
type ConnectionResolver interface {
	database.DBConnectionResolver
	ForceReconnect(name string) (database.DBConnection, error)
}
