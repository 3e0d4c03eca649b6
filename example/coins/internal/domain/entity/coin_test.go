package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/example/coins/internal/domain/entity"
)

func TestCoinApply(t *testing.T) {
	total, err := entity.Coin{CoinType: entity.CoinAdd, CoinScore: 5}.Apply(10)
	require.NoError(t, err)
	assert.Equal(t, 15.0, total)

	total, err = entity.Coin{CoinType: entity.CoinMultiply, CoinScore: 3}.Apply(10)
	require.NoError(t, err)
	assert.Equal(t, 30.0, total)

	_, err = entity.Coin{ID: 7, CoinType: "DIVIDE", CoinScore: 2}.Apply(10)
	assert.ErrorContains(t, err, "DIVIDE")
}
