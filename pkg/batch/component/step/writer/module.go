package writer

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
)

// JSONLinesWriterRef is the JSL ref of the JSON-lines writer.
const JSONLinesWriterRef = "jsonLinesWriter"

// JSONLinesWriterConfig holds the JSL properties of a JSON-lines writer. ObjectName may
// reference job parameters as ${name}.
type JSONLinesWriterConfig struct {
	Name       string `yaml:"name"`
	StorageRef string `yaml:"storage-ref"`
	ObjectName string `yaml:"object-name"`
}

// ExpandJobParameters replaces ${name} in s with the job parameter name. Unknown
// parameters expand to the empty string.
func ExpandJobParameters(s string, scope port.StepScope) string {
	return os.Expand(s, func(key string) string {
		if v, ok := scope.JobParameters.GetString(key); ok {
			return v
		}
		if v := scope.JobParameters.Get(key); v != nil {
			return fmt.Sprint(v)
		}
		return ""
	})
}

// NewJSONLinesWriterBuilder builds JSON-lines writers uploading through resolver.
func NewJSONLinesWriterBuilder(resolver storage.StorageConnectionResolver) jsl.WriterBuilder {
	return func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemWriter, error) {
		var cfg JSONLinesWriterConfig
		if err := configbinder.BindStringProperties(properties, &cfg); err != nil {
			return nil, err
		}
		if cfg.StorageRef == "" || cfg.ObjectName == "" {
			return nil, fmt.Errorf("%s requires the 'storage-ref' and 'object-name' properties", JSONLinesWriterRef)
		}
		if cfg.Name == "" {
			cfg.Name = scope.StepName
		}
		return NewJSONLinesWriter(cfg.Name, resolver, cfg.StorageRef, ExpandJobParameters(cfg.ObjectName, scope)), nil
	}
}

// RegisterBuilders registers the writers that need no item type.
func RegisterBuilders(registry *jsl.Registry, resolver storage.StorageConnectionResolver) {
	registry.RegisterWriter(JSONLinesWriterRef, NewJSONLinesWriterBuilder(resolver))
}

// Module registers the writer builders. It needs storage.Module.
var Module = fx.Invoke(RegisterBuilders)
