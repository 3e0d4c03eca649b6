package accumulator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/component/accumulator"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

type record struct {
	Team  string  `yaml:"team" json:"team"`
	Score float64 `yaml:"score" json:"score"`
}

func TestScopedSeedsAndUpdates(t *testing.T) {
	ec := model.NewExecutionContext()
	total, err := accumulator.Bind(ec, "total", 0.0)
	require.NoError(t, err)

	v, err := total.Get()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	for _, amount := range []float64{10, -5, 20} {
		_, err := total.Update(func(cur float64) float64 { return cur + amount })
		require.NoError(t, err)
	}
	got, _ := ec.GetFloat64("total")
	assert.Equal(t, 25.0, got)
}

func TestScopedKeepsExistingValue(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put("count", 7)
	count, err := accumulator.Bind(ec, "count", 0)
	require.NoError(t, err)
	v, err := count.Get()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestScopedDecodesAfterRoundTrip(t *testing.T) {
	ec := model.NewExecutionContext()
	best, err := accumulator.Bind(ec, "maxScoreRecord", record{})
	require.NoError(t, err)
	best.Set(record{Team: "owls", Score: 42})

	restored := ec.DeepCopy()
	_, isRecord := restored["maxScoreRecord"].(record)
	require.False(t, isRecord)

	again, err := accumulator.Bind(restored, "maxScoreRecord", record{})
	require.NoError(t, err)
	v, err := again.Get()
	require.NoError(t, err)
	assert.Equal(t, record{Team: "owls", Score: 42}, v)
}

func TestBindRejectsNilContext(t *testing.T) {
	_, err := accumulator.Bind[int](nil, "k", 0)
	assert.Error(t, err)
}
