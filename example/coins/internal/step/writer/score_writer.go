// Package writer stores player scores.
package writer

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/example/coins/internal/domain/entity"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
)

// ScoreWriterRef is the JSL ref of the writer.
const ScoreWriterRef = "playerScoreWriter"

// ScoreWriter upserts the latest total of every player of a chunk into player_scores.
type ScoreWriter struct {
	*writer.GormUpsertWriter[entity.PlayerScore]
}

// NewScoreWriter creates the writer.
func NewScoreWriter(name string) *ScoreWriter {
	return &ScoreWriter{
		GormUpsertWriter: writer.NewGormUpsertWriter[entity.PlayerScore](name, "", []string{"player_name"}, []string{"total_score"}),
	}
}

// Write keeps the last score of each player; a single upsert statement may not touch a
// row twice.
func (w *ScoreWriter) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	return w.GormUpsertWriter.Write(ctx, t, LatestPerPlayer(items))
}

// LatestPerPlayer returns the last score of each player, in order of first appearance.
func LatestPerPlayer(items []interface{}) []interface{} {
	index := make(map[string]int, len(items))
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		score, ok := item.(entity.PlayerScore)
		if !ok {
			out = append(out, item)
			continue
		}
		if i, seen := index[score.PlayerName]; seen {
			out[i] = score
			continue
		}
		index[score.PlayerName] = len(out)
		out = append(out, score)
	}
	return out
}

var _ port.ItemWriter = (*ScoreWriter)(nil)

// RegisterBuilders registers the writer.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterWriter(ScoreWriterRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemWriter, error) {
		return NewScoreWriter(scope.StepName), nil
	})
}

var Module = fx.Invoke(RegisterBuilders)
