package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/serialization"
)

// ExecutionContext is a key-value store for sharing state across job and step executions.
// A step's context is owned by that step execution alone; the job's shared context is only
// written through JobExecution.PromoteContext.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates a new empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements the `driver.Valuer` interface, converting the ExecutionContext to a JSON string.
func (ec ExecutionContext) Value() (driver.Value, error) {
	data, err := serialization.MarshalExecutionContext(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to an ExecutionContext.
func (ec *ExecutionContext) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}
	m := map[string]interface{}(*ec)
	if err := serialization.UnmarshalExecutionContext(b, &m); err != nil {
		return err
	}
	*ec = m
	return nil
}

// Put sets a value in the ExecutionContext with the specified key and value.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get retrieves the value for the specified key. Returns nil and false if the value does not exist.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	val, ok := ec[key]
	return val, ok
}

// Has reports whether key is present.
func (ec ExecutionContext) Has(key string) bool {
	_, ok := ec[key]
	return ok
}

// GetString retrieves the value for the specified key as a string.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	val, ok := ec[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves the value for the specified key as an int.
// Numbers restored from JSON arrive as float64 and are converted.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	i, ok := ec.GetInt64(key)
	return int(i), ok
}

// GetInt64 retrieves the value for the specified key as an int64.
func (ec ExecutionContext) GetInt64(key string) (int64, bool) {
	val, ok := ec[key]
	if !ok {
		return 0, false
	}
	return toInt64(val)
}

// GetFloat64 retrieves the value for the specified key as a float64.
func (ec ExecutionContext) GetFloat64(key string) (float64, bool) {
	val, ok := ec[key]
	if !ok {
		return 0, false
	}
	if !isNumeric(val) {
		if n, isNum := val.(json.Number); isNum {
			f, err := n.Float64()
			return f, err == nil
		}
		return 0, false
	}
	return toFloat64(val), true
}

// GetBool retrieves the value for the specified key as a bool.
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	val, ok := ec[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// Remove removes the specified key from the ExecutionContext.
func (ec ExecutionContext) Remove(key string) {
	delete(ec, key)
}

// Keys returns the keys in sorted order.
func (ec ExecutionContext) Keys() []string {
	keys := make([]string, 0, len(ec))
	for k := range ec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy creates a shallow copy of the ExecutionContext.
func (ec ExecutionContext) Copy() ExecutionContext {
	newEC := make(ExecutionContext, len(ec))
	for k, v := range ec {
		newEC[k] = v
	}
	return newEC
}

// DeepCopy returns a copy that shares no mutable state with ec, as it would be after
// persistence. Values that cannot be serialized fall back to a shallow copy.
func (ec ExecutionContext) DeepCopy() ExecutionContext {
	copied, err := serialization.RoundTripExecutionContext(ec)
	if err != nil {
		logger.Warnf("ExecutionContext could not be deep copied, falling back to a shallow copy: %v", err)
		return ec.Copy()
	}
	return ExecutionContext(copied)
}

// Merge copies every entry of other into ec, overwriting existing keys.
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

// GetNested retrieves a nested value using a dot-separated key.
// Example: "reader_context.currentIndex"
func (ec ExecutionContext) GetNested(key string) (interface{}, bool) {
	if val, ok := ec[key]; ok {
		return val, true
	}

	var current interface{} = ec
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// PutNested sets a value using a dot-separated key. Intermediate maps are created if they do not exist.
func (ec ExecutionContext) PutNested(key string, value interface{}) {
	parts := strings.Split(key, ".")
	current := map[string]interface{}(ec)

	for i, part := range parts {
		if i == len(parts)-1 {
			current[part] = value
			return
		}
		next, ok := asMap(current[part])
		if !ok {
			if _, exists := current[part]; exists {
				logger.Warnf("ExecutionContext.PutNested: Overwriting existing non-map value at path '%s'.", strings.Join(parts[:i+1], "."))
			}
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case ExecutionContext:
		return m, true
	case map[string]interface{}:
		return m, true
	default:
		return nil, false
	}
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func toFloat64(v interface{}) float64 {
	switch v := v.(type) {
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		if isNumeric(v) {
			return int64(toFloat64(v)), true
		}
		return 0, false
	}
}
