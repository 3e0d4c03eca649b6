// Package config holds the settings of named storage connections.
package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Bucket for "gcs".
	CredentialsFile string `yaml:"credentials_file"` // Service account key for "gcs"; empty uses application default credentials.
	BaseDir         string `yaml:"base_dir"`         // Root directory for "local", object prefix for "gcs".
}
