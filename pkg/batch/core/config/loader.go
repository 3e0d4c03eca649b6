package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/serialization"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig      `optional:"true"`
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// NewConfigProvider is an Fx provider that loads and validates *Config and applies the
// logging and masking settings.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := Load(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	Apply(cfg)
	return cfg, nil
}

// Apply pushes the process wide settings of cfg into the logger and the parameter masking.
func Apply(cfg *Config) {
	logger.SetLogLevel(cfg.Batch.System.Logging.Level)
	logger.SetFormat(cfg.Batch.System.Logging.Format)
	serialization.SetMaskedParameterKeys(cfg.Batch.Security.MaskedParameterKeys)
	logger.Infof("Log level set to: %s", cfg.Batch.System.Logging.Level)
}

// Load builds the configuration: defaults, then the YAML document (after environment
// placeholder expansion), then BATCH_* environment variables. A .env file is loaded first
// when present; it never overrides variables already set.
func Load(envFilePath string, data []byte, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()
	if len(data) > 0 {
		if expander != nil {
			expanded, err := expander.Expand(data)
			if err != nil {
				return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
			}
			data = expanded
		}
		// Decoding into the defaults keeps every value the document leaves out.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal config", err, false, false)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot work with.
func (c *Config) Validate() error {
	var result *multierror.Error
	job := c.Batch.Job
	if job.ChunkSize < 1 {
		result = multierror.Append(result, fmt.Errorf("job.chunk_size must be at least 1, got %d", job.ChunkSize))
	}
	if job.GridSize < 1 {
		result = multierror.Append(result, fmt.Errorf("job.grid_size must be at least 1, got %d", job.GridSize))
	}
	if job.SplitConcurrency < 0 {
		result = multierror.Append(result, fmt.Errorf("job.split_concurrency must not be negative"))
	}
	if job.ItemSkip.SkipLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("job.item_skip.skip_limit must not be negative"))
	}
	for _, name := range job.ItemSkip.SkippableExceptions {
		if !exception.IsErrorTypeRegistered(name) {
			// Names may also match Go type names or message fragments.
			logger.Warnf("Skippable exception '%s' is not a registered error name.", name)
		}
	}

	switch strings.ToUpper(c.Batch.System.Logging.Level) {
	case "", string(LogLevelTrace), string(LogLevelDebug), string(LogLevelInfo), string(LogLevelWarn),
		string(LogLevelError), string(LogLevelFatal), string(LogLevelSilent):
	default:
		result = multierror.Append(result, fmt.Errorf("unknown logging level '%s'", c.Batch.System.Logging.Level))
	}
	switch strings.ToLower(c.Batch.System.Logging.Format) {
	case "", "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown logging format '%s'", c.Batch.System.Logging.Format))
	}

	for _, exporter := range c.Batch.Metrics.Exporters {
		switch exporter {
		case "prometheus", "otel":
		default:
			result = multierror.Append(result, fmt.Errorf("unknown metrics exporter '%s'", exporter))
		}
	}
	switch c.Batch.Metrics.OTLPProtocol {
	case "", "grpc", "http":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown otlp protocol '%s'", c.Batch.Metrics.OTLPProtocol))
	}

	for name, db := range c.Batch.Database {
		switch db.Type {
		case "sqlite", "mysql", "postgres":
		default:
			result = multierror.Append(result, fmt.Errorf("database '%s': unsupported type '%s'", name, db.Type))
		}
	}
	for name, s := range c.Batch.Storage {
		switch s.Type {
		case "local", "gcs":
		default:
			result = multierror.Append(result, fmt.Errorf("storage '%s': unsupported type '%s'", name, s.Type))
		}
	}
	return result.ErrorOrNil()
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// BATCH_DATABASE_APP_HOST sets Host of the "app" entry.
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct{} from environment variables.
// The first segment after prefix is the map key, the rest names the field by its yaml tag.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndFieldParts := strings.Split(parts[0], "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		structVal := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			structVal.Set(existing)
		}
		if err := setStructFieldFromEnv(structVal, structFieldName, parts[1]); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the field of structVal whose yaml tag equals fieldName, ignoring case.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		yamlTag := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(yamlTag, fieldName) {
			return setField(structVal.Field(i), value)
		}
	}
	return nil
}

// setField sets a string, integer, float, bool or string slice (comma separated) field.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
