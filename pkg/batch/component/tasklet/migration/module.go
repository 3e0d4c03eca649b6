// Package migration provides the tasklet applying golang-migrate scripts to a configured
// database connection.
package migration

import (
	"context"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/batchflow/pkg/batch/component/tasklet/migration/filesystem"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// MigrationTaskletRef is the JSL ref of the migration tasklet.
const MigrationTaskletRef = "migrationTasklet"

// NewTaskletBuilder builds migration tasklets over resolver and sources.
func NewTaskletBuilder(resolver ConnectionResolver, sources filesystem.Sources) jsl.TaskletBuilder {
	return func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.Tasklet, error) {
		cfg, err := TaskletConfigFrom(properties)
		if err != nil {
			return nil, err
		}
		return NewMigrationTasklet(cfg, resolver, sources), nil
	}
}

// RegisterBuilders registers the migration tasklet.
func RegisterBuilders(registry *jsl.Registry, resolver ConnectionResolver, sources filesystem.Sources) {
	registry.RegisterTasklet(MigrationTaskletRef, NewTaskletBuilder(resolver, sources))
	logger.Debugf("Tasklet '%s' registered with sources %v.", MigrationTaskletRef, sources.Names())
}

// Module registers the migration tasklet. Applications contribute their scripts with
// filesystem.Provide; it needs the gorm database module.
var Module = fx.Options(
	filesystem.Module,
	fx.Provide(func(r *gormadapter.GormDBConnectionResolver) ConnectionResolver { return r }),
	fx.Invoke(RegisterBuilders),
)
