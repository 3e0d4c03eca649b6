package storage

import (
	"fmt"
	"sync"

	storageconfig "github.com/tigerroll/batchflow/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// OpenFunc opens the connection called name from its configuration.
type OpenFunc func(name string, cfg storageconfig.StorageConfig) (StorageConnection, error)

// BaseProvider caches the connections of one storage type. Backends embed it and
// supply how a connection is opened.
type BaseProvider struct {
	cfg         *config.Config
	storageType string
	open        OpenFunc
	connections map[string]StorageConnection
	mu          sync.RWMutex
}

// NewBaseProvider creates a provider of storageType connections.
func NewBaseProvider(cfg *config.Config, storageType string, open OpenFunc) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		storageType: storageType,
		open:        open,
		connections: make(map[string]StorageConnection),
	}
}

// Type returns the storage type handled by the provider.
func (p *BaseProvider) Type() string {
	return p.storageType
}

// GetConnection returns the cached connection called name, opening it on first use.
func (p *BaseProvider) GetConnection(name string) (StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStore(name)
}

func (p *BaseProvider) createAndStore(name string) (StorageConnection, error) {
	sc, ok := p.cfg.StorageConfig(name)
	if !ok {
		return nil, fmt.Errorf("storage configuration for name '%s' not found", name)
	}
	if sc.Type != p.storageType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, p.storageType, sc.Type)
	}
	conn, err := p.open(name, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage '%s': %w", p.storageType, name, err)
	}
	p.connections[name] = conn
	logger.Debugf("Created new %s storage connection '%s'.", p.storageType, name)
	return conn, nil
}

// ForceReconnect closes the connection called name, if open, and opens it again.
func (p *BaseProvider) ForceReconnect(name string) (StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.connections[name]; ok {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to close storage connection '%s' during reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	return p.createAndStore(name)
}

// CloseAll closes every cached connection.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close storage connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}
