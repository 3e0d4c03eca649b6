package migration

import (
	"context"
	"fmt"
	"path"

	"github.com/tigerroll/batchflow/pkg/batch/component/tasklet/migration/filesystem"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

const taskletName = "migration_tasklet"

// Step context keys written by the tasklet.
const (
	VersionKey = "migration.version"
	DirtyKey   = "migration.dirty"
)

// TaskletConfig holds the JSL properties of the migration tasklet.
type TaskletConfig struct {
	DBRef   string `yaml:"db-ref"`
	Source  string `yaml:"source"`
	Dir     string `yaml:"dir"`
	Command string `yaml:"command"`
	Steps   int    `yaml:"steps"`
	Table   string `yaml:"table"`
}

// TaskletConfigFrom binds and validates JSL properties.
func TaskletConfigFrom(properties map[string]string) (TaskletConfig, error) {
	cfg := TaskletConfig{Command: CommandUp}
	if err := configbinder.BindStringProperties(properties, &cfg); err != nil {
		return cfg, exception.NewBatchError(taskletName, "invalid properties", err, false, false)
	}
	if cfg.DBRef == "" || cfg.Source == "" {
		return cfg, exception.NewBatchErrorf(taskletName, "properties 'db-ref' and 'source' are required")
	}
	switch cfg.Command {
	case CommandUp, CommandDown:
	default:
		return cfg, exception.NewBatchErrorf(taskletName, "unknown migration command '%s'", cfg.Command)
	}
	return cfg, nil
}

// MigrationTasklet migrates the schema of one database connection with the scripts of a
// migration source, then re-opens the connection for the steps that follow.
type MigrationTasklet struct {
	cfg      TaskletConfig
	resolver ConnectionResolver
	sources  filesystem.Sources
}

// NewMigrationTasklet creates a MigrationTasklet.
func NewMigrationTasklet(cfg TaskletConfig, resolver ConnectionResolver, sources filesystem.Sources) *MigrationTasklet {
	return &MigrationTasklet{cfg: cfg, resolver: resolver, sources: sources}
}

// Execute runs the configured command and records the resulting schema version in the
// step context.
func (t *MigrationTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	source, ok := t.sources[t.cfg.Source]
	if !ok {
		return model.ExitStatusFailed, exception.NewBatchErrorf(taskletName, "migration source '%s' not found (known: %v)", t.cfg.Source, t.sources.Names())
	}
	conn, err := t.resolver.ResolveDBConnection(ctx, t.cfg.DBRef)
	if err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(taskletName, "failed to resolve connection '"+t.cfg.DBRef+"'", err, false, true)
	}

	dir := t.cfg.Dir
	if dir == "" {
		dir = path.Join(source.Dir, conn.Type())
	}

	m := NewMigrator(conn, t.cfg.Table)
	var sv SchemaVersion
	switch {
	case t.cfg.Steps != 0:
		n := t.cfg.Steps
		if t.cfg.Command == CommandDown && n > 0 {
			n = -n
		}
		sv, err = m.Steps(ctx, source.FS, dir, n)
	case t.cfg.Command == CommandDown:
		sv, err = m.Down(ctx, source.FS, dir)
	default:
		sv, err = m.Up(ctx, source.FS, dir)
	}

	if _, rerr := t.resolver.ForceReconnect(t.cfg.DBRef); rerr != nil {
		logger.Errorf("MigrationTasklet: failed to re-open connection '%s': %v", t.cfg.DBRef, rerr)
		if err == nil {
			err = rerr
		}
	}
	if err != nil {
		return model.ExitStatusFailed, exception.NewBatchError(taskletName, fmt.Sprintf("migration '%s' failed", t.cfg.Command), err, false, false)
	}

	if sv.Applied {
		stepExecution.ExecutionContext.Put(VersionKey, int(sv.Version))
		stepExecution.ExecutionContext.Put(DirtyKey, sv.Dirty)
	}
	return model.ExitStatusCompleted, nil
}

func (t *MigrationTasklet) Close(ctx context.Context) error { return nil }

var _ port.Tasklet = (*MigrationTasklet)(nil)
