// Package generic provides tasklets that are not tied to an application domain.
package generic

import (
	"context"
	"sort"
	"strconv"
	"strings"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ExecutionContextWriterTasklet writes its properties into the step context. Property
// keys have the form "key.type" where type is string, int, float or bool; a key without a
// type is written as a string.
type ExecutionContextWriterTasklet struct {
	name       string
	properties map[string]string
}

// NewExecutionContextWriterTasklet creates a new instance of ExecutionContextWriterTasklet.
func NewExecutionContextWriterTasklet(name string, properties map[string]string) *ExecutionContextWriterTasklet {
	return &ExecutionContextWriterTasklet{name: name, properties: properties}
}

// ParseTypedValue converts raw according to typ.
func ParseTypedValue(typ, raw string) (interface{}, error) {
	switch strings.ToLower(typ) {
	case "", "string":
		return raw, nil
	case "int":
		return strconv.Atoi(raw)
	case "float", "float64":
		return strconv.ParseFloat(raw, 64)
	case "bool":
		return strconv.ParseBool(raw)
	default:
		return nil, exception.NewBatchErrorf("tasklet", "unknown value type '%s'", typ)
	}
}

func (t *ExecutionContextWriterTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	keys := make([]string, 0, len(t.properties))
	for k := range t.properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key, typ := k, ""
		if i := strings.LastIndex(k, "."); i > 0 {
			key, typ = k[:i], k[i+1:]
		}
		value, err := ParseTypedValue(typ, t.properties[k])
		if err != nil {
			return model.ExitStatusFailed, exception.NewBatchError(t.name, "invalid value for '"+k+"'", err, false, false)
		}
		stepExecution.ExecutionContext.Put(key, value)
		logger.Debugf("ExecutionContextWriterTasklet '%s': %s = %v", t.name, key, value)
	}
	return model.ExitStatusCompleted, nil
}

func (t *ExecutionContextWriterTasklet) Close(ctx context.Context) error { return nil }

var _ port.Tasklet = (*ExecutionContextWriterTasklet)(nil)
