// Package serialization converts execution contexts, job parameters and failure lists to and
// from their persisted JSON form, masking sensitive parameter values on the way out.
package serialization

import (
	"encoding/json"
	"sync"

	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

const module = "serialization"

// MaskValue replaces the value of a masked parameter.
const MaskValue = "********"

var (
	maskedKeysMu sync.RWMutex
	maskedKeys   []string
)

// SetMaskedParameterKeys configures the parameter names whose values are never logged or persisted in clear.
func SetMaskedParameterKeys(keys []string) {
	maskedKeysMu.Lock()
	defer maskedKeysMu.Unlock()
	maskedKeys = append([]string(nil), keys...)
}

// MaskedParameterKeys returns the configured masked parameter names.
func MaskedParameterKeys() []string {
	maskedKeysMu.RLock()
	defer maskedKeysMu.RUnlock()
	return append([]string(nil), maskedKeys...)
}

// GetMaskedJobParametersMap creates a copy of params with masked keys replaced by MaskValue.
func GetMaskedJobParametersMap(params map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range MaskedParameterKeys() {
		if _, ok := masked[key]; ok {
			masked[key] = MaskValue
		}
	}
	return masked
}

// MarshalExecutionContext serializes an ExecutionContext map into a JSON byte slice.
func MarshalExecutionContext(ctx map[string]interface{}) ([]byte, error) {
	if ctx == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		logger.Errorf("Failed to serialize ExecutionContext: %v", err)
		return nil, exception.NewBatchError(module, "Failed to serialize ExecutionContext", err, false, false)
	}
	return data, nil
}

// UnmarshalExecutionContext deserializes data into ctx, replacing its previous content.
func UnmarshalExecutionContext(data []byte, ctx *map[string]interface{}) error {
	if *ctx == nil {
		*ctx = make(map[string]interface{})
	} else {
		for k := range *ctx {
			delete(*ctx, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		return nil
	}

	if err := json.Unmarshal(data, ctx); err != nil {
		logger.Errorf("Failed to deserialize ExecutionContext: %v", err)
		return exception.NewBatchError(module, "Failed to deserialize ExecutionContext", err, false, false)
	}
	if *ctx == nil {
		*ctx = make(map[string]interface{})
	}
	return nil
}

// RoundTripExecutionContext returns a deep copy of ctx as it would look after being
// persisted and loaded again. Numbers come back as float64 and structs as maps.
func RoundTripExecutionContext(ctx map[string]interface{}) (map[string]interface{}, error) {
	data, err := MarshalExecutionContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	if err := UnmarshalExecutionContext(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalFailures serializes a slice of failure messages into a JSON array.
func MarshalFailures(failures []string) ([]byte, error) {
	if failures == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return nil, exception.NewBatchError(module, "Failed to serialize Failures", err, false, false)
	}
	return data, nil
}

// UnmarshalFailures deserializes a JSON array into a slice of failure messages.
func UnmarshalFailures(data []byte, msgs *[]string) error {
	if len(data) == 0 || string(data) == "null" {
		*msgs = []string{}
		return nil
	}
	if err := json.Unmarshal(data, msgs); err != nil {
		return exception.NewBatchError(module, "Failed to deserialize Failures", err, false, false)
	}
	return nil
}
