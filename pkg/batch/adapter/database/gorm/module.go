package gorm

import (
	"context"
	"sort"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// RegisterTransactionManagers registers one GormTransactionManager per configured
// database, under the database name, so that steps select theirs by the
// transaction-manager property.
func RegisterTransactionManagers(registry *jsl.Registry, resolver *GormDBConnectionResolver, cfg *config.Config) {
	names := make([]string, 0, len(cfg.Batch.Database))
	for name := range cfg.Batch.Database {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		registry.RegisterTransactionManager(name, NewGormTransactionManager(resolver, name))
	}
	logger.Debugf("Gorm transaction managers registered: %v", names)
}

// Module provides the connection resolver and registers the transaction managers.
// Combine it with the sqlite, mysql or postgres module providing the DBProviders.
var Module = fx.Options(
	fx.Provide(NewGormDBConnectionResolver),
	fx.Provide(func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r }),
	fx.Invoke(RegisterTransactionManagers),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return r.CloseAll() }})
	}),
)
