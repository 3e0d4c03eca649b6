package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/serialization"
)

// ParameterType is the declared type of a job parameter.
type ParameterType string

const (
	ParameterTypeString  ParameterType = "STRING"
	ParameterTypeLong    ParameterType = "LONG"
	ParameterTypeDouble  ParameterType = "DOUBLE"
	ParameterTypeBoolean ParameterType = "BOOLEAN"
	ParameterTypeDate    ParameterType = "DATE"
	ParameterTypeUUID    ParameterType = "UUID"
)

// JobParameter is a single typed launch parameter. Non-identifying parameters (such as a
// correlation id) do not take part in job instance identity.
type JobParameter struct {
	Name        string        `json:"name"`
	Value       interface{}   `json:"value"`
	Type        ParameterType `json:"type"`
	Identifying bool          `json:"identifying"`
}

// JobParameters is an ordered set of typed parameters supplied at launch.
// The zero value is an empty parameter set ready to use.
type JobParameters struct {
	params []JobParameter
}

// NewJobParameters creates a new instance of JobParameters.
func NewJobParameters() JobParameters {
	return JobParameters{}
}

// Put sets an identifying parameter, inferring its type from value.
// Integers become LONG, floats DOUBLE, time.Time DATE and uuid.UUID UUID; anything else is stored as STRING.
func (jp *JobParameters) Put(key string, value interface{}) {
	p, err := NewJobParameter(key, value, true)
	if err != nil {
		p = JobParameter{Name: key, Value: fmt.Sprintf("%v", value), Type: ParameterTypeString, Identifying: true}
	}
	jp.PutParameter(p)
}

// PutNonIdentifying sets a parameter that is excluded from the instance identity.
func (jp *JobParameters) PutNonIdentifying(key string, value interface{}) {
	p, err := NewJobParameter(key, value, false)
	if err != nil {
		p = JobParameter{Name: key, Value: fmt.Sprintf("%v", value), Type: ParameterTypeString}
	}
	jp.PutParameter(p)
}

// PutParameter adds p, replacing an existing parameter of the same name in place.
func (jp *JobParameters) PutParameter(p JobParameter) {
	for i := range jp.params {
		if jp.params[i].Name == p.Name {
			updated := append([]JobParameter(nil), jp.params...)
			updated[i] = p
			jp.params = updated
			return
		}
	}
	// copies share the backing array, so never append into spare capacity
	jp.params = append(jp.params[:len(jp.params):len(jp.params)], p)
}

// NewJobParameter builds a typed parameter from a Go value.
func NewJobParameter(name string, value interface{}, identifying bool) (JobParameter, error) {
	p := JobParameter{Name: name, Identifying: identifying}
	switch v := value.(type) {
	case string:
		p.Type, p.Value = ParameterTypeString, v
	case int:
		p.Type, p.Value = ParameterTypeLong, int64(v)
	case int32:
		p.Type, p.Value = ParameterTypeLong, int64(v)
	case int64:
		p.Type, p.Value = ParameterTypeLong, v
	case float32:
		p.Type, p.Value = ParameterTypeDouble, float64(v)
	case float64:
		p.Type, p.Value = ParameterTypeDouble, v
	case bool:
		p.Type, p.Value = ParameterTypeBoolean, v
	case time.Time:
		p.Type, p.Value = ParameterTypeDate, v
	case uuid.UUID:
		p.Type, p.Value = ParameterTypeUUID, v
	default:
		return p, fmt.Errorf("unsupported job parameter type %T for '%s'", value, name)
	}
	return p, nil
}

// ParseJobParameter converts the string form of a value into the declared type.
// It is used for parameters given on a command line or in configuration.
func ParseJobParameter(name, raw string, typ ParameterType, identifying bool) (JobParameter, error) {
	p := JobParameter{Name: name, Type: typ, Identifying: identifying}
	var err error
	switch typ {
	case ParameterTypeString, "":
		p.Type, p.Value = ParameterTypeString, raw
	case ParameterTypeLong:
		p.Value, err = strconv.ParseInt(raw, 10, 64)
	case ParameterTypeDouble:
		p.Value, err = strconv.ParseFloat(raw, 64)
	case ParameterTypeBoolean:
		p.Value, err = strconv.ParseBool(raw)
	case ParameterTypeDate:
		p.Value, err = time.Parse(time.RFC3339, raw)
	case ParameterTypeUUID:
		p.Value, err = uuid.Parse(raw)
	default:
		err = fmt.Errorf("unknown parameter type %s", typ)
	}
	if err != nil {
		return JobParameter{}, exception.NewBatchErrorf("job_parameters", "invalid value '%s' for parameter '%s' of type %s", raw, name, typ, err)
	}
	return p, nil
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.params)
}

// Parameters returns a copy of the parameters in insertion order.
func (jp JobParameters) Parameters() []JobParameter {
	return append([]JobParameter(nil), jp.params...)
}

// Names returns parameter names in insertion order.
func (jp JobParameters) Names() []string {
	names := make([]string, len(jp.params))
	for i, p := range jp.params {
		names[i] = p.Name
	}
	return names
}

// Parameter returns the full parameter for key.
func (jp JobParameters) Parameter(key string) (JobParameter, bool) {
	for _, p := range jp.params {
		if p.Name == key {
			return p, true
		}
	}
	return JobParameter{}, false
}

// Get retrieves the value for the specified key. Returns nil if the value does not exist.
func (jp JobParameters) Get(key string) interface{} {
	p, ok := jp.Parameter(key)
	if !ok {
		return nil
	}
	return p.Value
}

// GetString retrieves the value for the specified key as a string.
// UUID and DATE values are returned in their canonical text form.
func (jp JobParameters) GetString(key string) (string, bool) {
	p, ok := jp.Parameter(key)
	if !ok {
		return "", false
	}
	switch v := p.Value.(type) {
	case string:
		return v, true
	case uuid.UUID:
		return v.String(), true
	case time.Time:
		return v.Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

// GetInt retrieves the value for the specified key as an int.
func (jp JobParameters) GetInt(key string) (int, bool) {
	i, ok := jp.GetInt64(key)
	return int(i), ok
}

// GetInt64 retrieves the value for the specified key as an int64.
func (jp JobParameters) GetInt64(key string) (int64, bool) {
	p, ok := jp.Parameter(key)
	if !ok {
		return 0, false
	}
	return toInt64(p.Value)
}

// GetFloat64 retrieves the value for the specified key as a float64.
func (jp JobParameters) GetFloat64(key string) (float64, bool) {
	p, ok := jp.Parameter(key)
	if !ok || !isNumeric(p.Value) {
		return 0, false
	}
	return toFloat64(p.Value), true
}

// GetBool retrieves the value for the specified key as a bool.
func (jp JobParameters) GetBool(key string) (bool, bool) {
	p, ok := jp.Parameter(key)
	if !ok {
		return false, false
	}
	b, ok := p.Value.(bool)
	return b, ok
}

// GetTime retrieves a DATE parameter.
func (jp JobParameters) GetTime(key string) (time.Time, bool) {
	p, ok := jp.Parameter(key)
	if !ok {
		return time.Time{}, false
	}
	t, ok := p.Value.(time.Time)
	return t, ok
}

// GetUUID retrieves a UUID parameter.
func (jp JobParameters) GetUUID(key string) (uuid.UUID, bool) {
	p, ok := jp.Parameter(key)
	if !ok {
		return uuid.Nil, false
	}
	switch v := p.Value.(type) {
	case uuid.UUID:
		return v, true
	case string:
		id, err := uuid.Parse(v)
		return id, err == nil
	default:
		return uuid.Nil, false
	}
}

// Identifying returns only the identifying parameters.
func (jp JobParameters) Identifying() JobParameters {
	var out JobParameters
	for _, p := range jp.params {
		if p.Identifying {
			out.params = append(out.params, p)
		}
	}
	return out
}

// ToMap returns name to value for every parameter.
func (jp JobParameters) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(jp.params))
	for _, p := range jp.params {
		m[p.Name] = p.Value
	}
	return m
}

// Equal reports whether both sets hold the same identifying parameters.
func (jp JobParameters) Equal(other JobParameters) bool {
	return jp.canonical() == other.canonical()
}

// Contains reports whether every parameter of partial is present in jp with an equal value.
// Numeric values are compared regardless of their Go type.
func (jp JobParameters) Contains(partial JobParameters) bool {
	for _, want := range partial.params {
		got, ok := jp.Parameter(want.Name)
		if !ok || !deepEqualWithNumericTolerance(got.Value, want.Value) {
			return false
		}
	}
	return true
}

func deepEqualWithNumericTolerance(a, b interface{}) bool {
	if isNumeric(a) && isNumeric(b) {
		return toFloat64(a) == toFloat64(b)
	}
	return reflect.DeepEqual(a, b)
}

// Hash calculates the identity hash of the parameters.
// Only identifying parameters take part, in sorted canonical form, so insertion order and
// non-identifying values never change the result.
func (jp JobParameters) Hash() (string, error) {
	hasher := sha256.New()
	if _, err := hasher.Write([]byte(jp.canonical())); err != nil {
		return "", exception.NewBatchError("job_parameters", "Failed to hash JobParameters", err, false, false)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (jp JobParameters) canonical() string {
	ids := jp.Identifying().params
	sort.Slice(ids, func(i, j int) bool { return ids[i].Name < ids[j].Name })

	var sb strings.Builder
	for _, p := range ids {
		sb.WriteString(strconv.Quote(p.Name))
		sb.WriteString("=")
		sb.WriteString(string(p.Type))
		sb.WriteString(":")
		sb.WriteString(canonicalValue(p))
		sb.WriteString(";")
	}
	return sb.String()
}

func canonicalValue(p JobParameter) string {
	switch v := p.Value.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if p.Type == ParameterTypeLong {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// String returns the string representation of JobParameters. Sensitive information is masked.
func (jp JobParameters) String() string {
	data, err := json.Marshal(serialization.GetMaskedJobParametersMap(jp.ToMap()))
	if err != nil {
		return fmt.Sprintf("{[ERROR: Failed to marshal masked parameters: %v]}", err)
	}
	return string(data)
}

// MarshalJSON encodes the parameters as an ordered array. Masked keys are persisted masked.
func (jp JobParameters) MarshalJSON() ([]byte, error) {
	masked := make(map[string]bool)
	for _, k := range serialization.MaskedParameterKeys() {
		masked[k] = true
	}
	out := make([]JobParameter, len(jp.params))
	for i, p := range jp.params {
		if masked[p.Name] {
			p.Value = serialization.MaskValue
		}
		out[i] = p
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the array form and restores each value's declared Go type.
func (jp *JobParameters) UnmarshalJSON(data []byte) error {
	var raw []JobParameter
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	jp.params = nil
	for _, p := range raw {
		restored, err := restoreType(p)
		if err != nil {
			return err
		}
		jp.params = append(jp.params, restored)
	}
	return nil
}

func restoreType(p JobParameter) (JobParameter, error) {
	switch p.Type {
	case ParameterTypeLong:
		if f, ok := p.Value.(float64); ok {
			p.Value = int64(f)
		}
	case ParameterTypeDate, ParameterTypeUUID:
		if s, ok := p.Value.(string); ok && s != serialization.MaskValue {
			return ParseJobParameter(p.Name, s, p.Type, p.Identifying)
		}
	}
	return p, nil
}

// Value implements the `driver.Valuer` interface, converting JobParameters to a JSON string.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := jp.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface.
func (jp *JobParameters) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		jp.params = nil
		return nil
	case []byte:
		return jp.UnmarshalJSON(v)
	case string:
		return jp.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
}
