package writer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/batchflow/example/coins/internal/domain/entity"
	"github.com/tigerroll/batchflow/example/coins/internal/step/writer"
)

func TestLatestPerPlayer(t *testing.T) {
	items := []interface{}{
		entity.PlayerScore{PlayerName: "alice", TotalScore: 10},
		entity.PlayerScore{PlayerName: "bob", TotalScore: 5},
		entity.PlayerScore{PlayerName: "alice", TotalScore: 20},
		entity.PlayerScore{PlayerName: "carol", TotalScore: 7},
		entity.PlayerScore{PlayerName: "bob", TotalScore: 20},
	}
	assert.Equal(t, []interface{}{
		entity.PlayerScore{PlayerName: "alice", TotalScore: 20},
		entity.PlayerScore{PlayerName: "bob", TotalScore: 20},
		entity.PlayerScore{PlayerName: "carol", TotalScore: 7},
	}, writer.LatestPerPlayer(items))

	assert.Empty(t, writer.LatestPerPlayer(nil))
}
