package partitioner

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
)

// GridPartitionerRef is the JSL ref of the GridPartitioner.
const GridPartitionerRef = "gridPartitioner"

// RegisterBuilders registers the framework partitioners.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterPartitioner(GridPartitionerRef, func(properties map[string]string) (port.Partitioner, error) {
		return NewGridPartitioner(), nil
	})
}

var Module = fx.Invoke(RegisterBuilders)
