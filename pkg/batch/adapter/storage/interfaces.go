// Package storage defines the object storage used by file writers. Backends (local
// file system, Google Cloud Storage) live in sub-packages and are collected by the
// StorageConnectionResolver through the storage_providers group.
package storage

import (
	"context"
	"io"
)

// StorageProviderGroup is the fx value group collecting the StorageProviders.
const StorageProviderGroup = "storage_providers"

// StorageExecutor defines the object operations of a storage connection.
// An empty bucket selects the bucket configured for the connection.
type StorageExecutor interface {
	// Upload stores data under objectName. contentType is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download returns a reader that the caller must close.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object whose name starts with prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is one named, configured storage connection.
type StorageConnection interface {
	StorageExecutor
	Name() string
	Type() string
	Close() error
}

// StorageProvider opens and caches the connections of one storage type.
type StorageProvider interface {
	GetConnection(name string) (StorageConnection, error)
	ForceReconnect(name string) (StorageConnection, error)
	CloseAll() error
	Type() string
}

// StorageConnectionResolver resolves a storage connection by its configured name.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
