// Package tasklet registers the export of the player scores.
package tasklet

import (
	"context"
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/batchflow/example/coins/internal/domain/entity"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/writer"
	"github.com/tigerroll/batchflow/pkg/batch/component/tasklet/generic"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
)

// ExportScoresRef is the JSL ref of the export tasklet. Besides the parquet export
// properties it accepts "file-tag", which may reference job parameters.
const ExportScoresRef = "exportScoresTasklet"

const defaultFileTag = "run-${run.id}"

// PlayerScores returns the scores in player order.
func PlayerScores(db *gorm.DB) *gorm.DB {
	return db.Model(&entity.PlayerScore{}).Order("player_name")
}

// InitialOf partitions the export by the first letter of the player name.
func InitialOf(score entity.PlayerScore) (string, error) {
	if score.PlayerName == "" {
		return "initial=_", nil
	}
	return "initial=" + strings.ToLower(score.PlayerName[:1]), nil
}

// RegisterBuilders registers the export tasklet.
func RegisterBuilders(registry *jsl.Registry, dbResolver database.DBConnectionResolver, storageResolver storage.StorageConnectionResolver) {
	registry.RegisterTasklet(ExportScoresRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.Tasklet, error) {
		cfg, err := generic.ParquetExportConfigFrom(properties)
		if err != nil {
			return nil, err
		}
		fileTag := properties["file-tag"]
		if fileTag == "" {
			fileTag = defaultFileTag
		}
		return generic.NewParquetExportTasklet[entity.PlayerScore](scope.StepName, cfg, dbResolver, storageResolver,
			PlayerScores, writer.ExpandJobParameters(fileTag, scope), InitialOf), nil
	})
}

var Module = fx.Invoke(RegisterBuilders)
