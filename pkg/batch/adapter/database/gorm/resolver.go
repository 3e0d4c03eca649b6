package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// GormDBConnectionResolver is the gorm implementation of database.DBConnectionResolver.
// It picks the provider by the configured type of the connection.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider
	cfg         *config.Config
}

var _ database.DBConnectionResolver = (*GormDBConnectionResolver)(nil)

// ResolverParams are the dependencies of the resolver.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewGormDBConnectionResolver creates a resolver over the providers of the db_providers group.
func NewGormDBConnectionResolver(p ResolverParams) *GormDBConnectionResolver {
	return NewResolver(p.Cfg, p.DBProviders...)
}

// NewResolver creates a resolver over providers.
func NewResolver(cfg *config.Config, providers ...database.DBProvider) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider, len(providers))
	for _, provider := range providers {
		providerMap[provider.Type()] = provider
	}
	return &GormDBConnectionResolver{dbProviders: providerMap, cfg: cfg}
}

// ResolveDBConnection returns the connection called name. A connection that fails to
// answer a ping is re-established once.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	dbConfig, ok := r.cfg.DatabaseConfig(name)
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: database configuration '%s' not found", name)
	}
	provider, ok := r.dbProviders[dbConfig.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: no provider for type '%s' of connection '%s'", dbConfig.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}
	sqlDB, err := conn.GetSQLDB()
	if err != nil {
		return nil, err
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		logger.Warnf("DBConnectionResolver: connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		reconnected, err := provider.ForceReconnect(name)
		if err != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to reconnect connection '%s': %w", name, err)
		}
		return reconnected, nil
	}
	return conn, nil
}

// ForceReconnect replaces the pooled connection called name with a new one.
func (r *GormDBConnectionResolver) ForceReconnect(name string) (database.DBConnection, error) {
	dbConfig, ok := r.cfg.DatabaseConfig(name)
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: database configuration '%s' not found", name)
	}
	provider, ok := r.dbProviders[dbConfig.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: no provider for type '%s' of connection '%s'", dbConfig.Type, name)
	}
	return provider.ForceReconnect(name)
}

// CloseAll closes the connections of every provider.
func (r *GormDBConnectionResolver) CloseAll() error {
	var lastErr error
	for _, p := range r.dbProviders {
		if err := p.CloseAll(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
