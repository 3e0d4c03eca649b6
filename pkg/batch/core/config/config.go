// Package config holds the framework configuration: defaults, the YAML document under the
// top-level "batch" key and the BATCH_* environment overrides derived from yaml tags.
package config

import (
	dbconfig "github.com/tigerroll/batchflow/pkg/batch/adapter/database/config"
	storageconfig "github.com/tigerroll/batchflow/pkg/batch/adapter/storage/config"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// ItemSkipConfig holds the default skip settings of chunk steps.
type ItemSkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`           // SkipLimit is the maximum number of items to skip.
	SkippableExceptions []string `yaml:"skippable_exceptions"` // SkippableExceptions lists registered error names.
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in JobParameters whose values should be masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// JobConfig holds the engine defaults used when a job definition leaves a value out.
type JobConfig struct {
	// ChunkSize is the default chunk size for chunk-oriented steps.
	ChunkSize int `yaml:"chunk_size"`
	// GridSize is the default number of partitions of a partitioned step.
	GridSize int `yaml:"grid_size"`
	// SplitConcurrency bounds the branches of a split running at once. 0 runs all branches.
	SplitConcurrency int `yaml:"split_concurrency"`
	// PollingIntervalMillis is the interval used by Run to wait for a launched execution.
	PollingIntervalMillis int `yaml:"polling_interval_millis"`
	// IsolationLevel is the default transaction isolation of chunk and tasklet steps.
	IsolationLevel string `yaml:"isolation_level"`
	// TransactionManagerRef names the database connection providing the chunk transactions.
	TransactionManagerRef string `yaml:"transaction_manager_ref"`
	// ItemSkip is the item-level skip configuration.
	ItemSkip ItemSkipConfig `yaml:"item_skip"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG", "TRACE").
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// MetricsConfig selects the metric and trace exporters.
type MetricsConfig struct {
	// Exporters lists the recorders to fan out to: "prometheus", "otel". Empty disables metrics.
	Exporters   []string `yaml:"exporters"`
	ServiceName string   `yaml:"service_name"`
	// Tracing enables the OpenTelemetry tracer.
	Tracing bool `yaml:"tracing"`
	// OTLPEndpoint is the collector address; empty keeps telemetry in process.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// OTLPProtocol is "grpc" or "http".
	OTLPProtocol string `yaml:"otlp_protocol"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// ListenAddress exposes the Prometheus registry over HTTP when set (e.g. ":9090").
	ListenAddress string `yaml:"listen_address"`
	// AsyncBufferSize is the event queue size of the asynchronous recorder. 0 records synchronously.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// BatchflowConfig holds all configuration under the "batch" top-level key.
type BatchflowConfig struct {
	Job      JobConfig      `yaml:"job"`
	System   SystemConfig   `yaml:"system"`
	Security SecurityConfig `yaml:"security"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	// Database holds the named database connections.
	Database map[string]dbconfig.DatabaseConfig `yaml:"database"`
	// Storage holds the named storage connections.
	Storage map[string]storageconfig.StorageConfig `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Batch BatchflowConfig `yaml:"batch"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Batch: BatchflowConfig{
			Job: JobConfig{
				ChunkSize:             10,
				GridSize:              1,
				PollingIntervalMillis: 100,
				IsolationLevel:        "DEFAULT",
				TransactionManagerRef: "default",
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "text"},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Metrics: MetricsConfig{
				ServiceName:  "batchflow",
				OTLPProtocol: "grpc",
			},
			Database: map[string]dbconfig.DatabaseConfig{},
			Storage:  map[string]storageconfig.StorageConfig{},
		},
	}
}

// DatabaseConfig returns the named database connection.
func (c *Config) DatabaseConfig(name string) (dbconfig.DatabaseConfig, bool) {
	db, ok := c.Batch.Database[name]
	return db, ok
}

// StorageConfig returns the named storage connection.
func (c *Config) StorageConfig(name string) (storageconfig.StorageConfig, bool) {
	s, ok := c.Batch.Storage[name]
	return s, ok
}
