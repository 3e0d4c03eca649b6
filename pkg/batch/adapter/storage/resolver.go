package storage

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// Resolver picks the provider of a connection by its configured type.
type Resolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

var _ StorageConnectionResolver = (*Resolver)(nil)

// ResolverParams are the dependencies of the resolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

// NewStorageConnectionResolver creates a resolver over the storage_providers group.
func NewStorageConnectionResolver(p ResolverParams) *Resolver {
	return NewResolver(p.Cfg, p.Providers...)
}

// NewResolver creates a resolver over providers.
func NewResolver(cfg *config.Config, providers ...StorageProvider) *Resolver {
	m := make(map[string]StorageProvider, len(providers))
	for _, p := range providers {
		m[p.Type()] = p
	}
	return &Resolver{providers: m, cfg: cfg}
}

// ResolveStorageConnection returns the connection called name.
func (r *Resolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	sc, ok := r.cfg.StorageConfig(name)
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", sc.Type, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, sc.Type, err)
	}
	return conn, nil
}

// CloseAll closes the connections of every provider.
func (r *Resolver) CloseAll() error {
	var result *multierror.Error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		logger.Debugf("All storage connections closed.")
	}
	return result.ErrorOrNil()
}

// Module provides the resolver. Combine it with local.Module and/or gcs.Module.
var Module = fx.Options(
	fx.Provide(NewStorageConnectionResolver),
	fx.Provide(func(r *Resolver) StorageConnectionResolver { return r }),
	fx.Invoke(func(lc fx.Lifecycle, r *Resolver) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return r.CloseAll() }})
	}),
)
