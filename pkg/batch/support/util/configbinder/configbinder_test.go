package configbinder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
)

type readerProperties struct {
	Table    string        `yaml:"table"`
	PageSize int           `yaml:"pageSize"`
	Timeout  time.Duration `yaml:"timeout"`
	Columns  []string      `yaml:"columns"`
	Strict   bool          `yaml:"strict"`
}

func TestBindStringProperties(t *testing.T) {
	var props readerProperties
	err := configbinder.BindStringProperties(map[string]string{
		"table":    "transactions",
		"pageSize": "50",
		"timeout":  "2s",
		"columns":  "id,amount",
		"strict":   "true",
	}, &props)
	require.NoError(t, err)

	assert.Equal(t, "transactions", props.Table)
	assert.Equal(t, 50, props.PageSize)
	assert.Equal(t, 2*time.Second, props.Timeout)
	assert.Equal(t, []string{"id", "amount"}, props.Columns)
	assert.True(t, props.Strict)
}

func TestBindProperties_EmptyLeavesTargetUntouched(t *testing.T) {
	props := readerProperties{PageSize: 10}
	require.NoError(t, configbinder.BindProperties(nil, &props))
	assert.Equal(t, 10, props.PageSize)
}

func TestBindProperties_InvalidValue(t *testing.T) {
	var props readerProperties
	err := configbinder.BindProperties(map[string]interface{}{"pageSize": "many"}, &props)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configbinder_test.readerProperties")
}

type scoreRecord struct {
	Team  string  `yaml:"team"`
	Score float64 `yaml:"score"`
}

func TestDecode_FromJSONShapedMap(t *testing.T) {
	var rec scoreRecord
	require.NoError(t, configbinder.Decode(map[string]interface{}{"team": "Owls", "score": float64(12)}, &rec))
	assert.Equal(t, scoreRecord{Team: "Owls", Score: 12}, rec)
}
