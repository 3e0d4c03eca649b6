package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig from *Config so that other components can
// depend on the logging configuration alone.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Batch.System.Logging
}

// Module provides *Config (from the supplied EmbeddedConfig) and its sections.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
