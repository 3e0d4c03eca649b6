// Package gcs stores objects in Google Cloud Storage. BaseDir, when set, prefixes
// every object name.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/fx"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/batchflow/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ProviderType is the storage type served by this package.
const ProviderType = "gcs"

type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*gcsAdapter)(nil)

// ClientOptions returns the client options of cfg. Without a credentials file the
// application default credentials are used.
func ClientOptions(cfg storageconfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// NewGCSAdapter opens a client for the connection called name.
func NewGCSAdapter(name string, cfg storageconfig.StorageConfig) (storage.StorageConnection, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("gcs storage adapter '%s': bucket_name must be specified", name)
	}
	client, err := gcstorage.NewClient(context.Background(), ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func (a *gcsAdapter) Close() error { return a.client.Close() }
func (a *gcsAdapter) Type() string { return ProviderType }
func (a *gcsAdapter) Name() string { return a.name }

func (a *gcsAdapter) object(bucket, objectName string) *gcstorage.ObjectHandle {
	return a.client.Bucket(BucketOf(a.cfg, bucket)).Object(ObjectPath(a.cfg, objectName))
}

// Upload streams data into the object.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.object(bucket, objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload of '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded gs://%s/%s (gcs storage '%s').", BucketOf(a.cfg, bucket), ObjectPath(a.cfg, objectName), a.name)
	return nil
}

// Download opens a reader on the object.
func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.object(bucket, objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download '%s': %w", objectName, err)
	}
	return r, nil
}

// ListObjects lists the objects under BaseDir/prefix. Names passed to fn are relative to BaseDir.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.client.Bucket(BucketOf(a.cfg, bucket)).Objects(ctx, &gcstorage.Query{Prefix: ObjectPath(a.cfg, prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(RelativeName(a.cfg, attrs.Name)); err != nil {
			return err
		}
	}
}

// DeleteObject deletes the object; a missing object is ignored.
func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.object(bucket, objectName).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete '%s': %w", objectName, err)
	}
	return nil
}

// BucketOf returns bucket, or the configured bucket when bucket is empty.
func BucketOf(cfg storageconfig.StorageConfig, bucket string) string {
	if bucket == "" {
		return cfg.BucketName
	}
	return bucket
}

// ObjectPath prefixes objectName with the configured BaseDir.
func ObjectPath(cfg storageconfig.StorageConfig, objectName string) string {
	base := strings.Trim(cfg.BaseDir, "/")
	if base == "" {
		return objectName
	}
	if objectName == "" {
		return base + "/"
	}
	return path.Join(base, objectName)
}

// RelativeName strips the configured BaseDir from a listed object name.
func RelativeName(cfg storageconfig.StorageConfig, objectName string) string {
	base := strings.Trim(cfg.BaseDir, "/")
	if base == "" {
		return objectName
	}
	return strings.TrimPrefix(objectName, base+"/")
}

// GCSProvider caches the gcs storage connections.
type GCSProvider struct {
	*storage.BaseProvider
}

// NewGCSProvider creates the provider.
func NewGCSProvider(cfg *config.Config) *GCSProvider {
	return &GCSProvider{BaseProvider: storage.NewBaseProvider(cfg, ProviderType, NewGCSAdapter)}
}

// Module adds the gcs provider to the storage_providers group.
var Module = fx.Provide(fx.Annotate(
	NewGCSProvider,
	fx.As(new(storage.StorageProvider)),
	fx.ResultTags(`group:"storage_providers"`),
))
