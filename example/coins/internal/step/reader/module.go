// Package reader registers the collected coins reader. Inside a partitioned step every
// worker reads the coins of the players its partition selects.
package reader

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/batchflow/example/coins/internal/domain/entity"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	"github.com/tigerroll/batchflow/pkg/batch/component/partitioner"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/reader"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// CoinReaderRef is the JSL ref of the reader.
const CoinReaderRef = "coinReader"

// Properties are the JSL properties of the reader.
type Properties struct {
	DBRef    string `yaml:"db-ref"`
	PageSize int    `yaml:"page-size"`
}

// CollectedCoins returns the coins in collection order.
func CollectedCoins(db *gorm.DB) *gorm.DB {
	return db.Model(&entity.Coin{}).Order("id")
}

// NewCoinReader creates the reader of the step of scope.
func NewCoinReader(scope port.StepScope, resolver database.DBConnectionResolver, p Properties) (*reader.GormPagedReader[entity.Coin], error) {
	selector, err := partitioner.SelectorFromScope(scope)
	if err != nil {
		return nil, err
	}
	logger.Infof("Coin reader '%s' selects partition %d of %d.", scope.StepName, selector.Index, selector.Count)
	return reader.NewGormPagedReader[entity.Coin](scope.StepName, resolver, p.DBRef, CollectedCoins, p.PageSize).
		WithFilter(func(c entity.Coin) bool { return selector.Selects(c.PlayerName) }), nil
}

// RegisterBuilders registers the reader.
func RegisterBuilders(registry *jsl.Registry, resolver database.DBConnectionResolver) {
	registry.RegisterReader(CoinReaderRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemReader, error) {
		p := Properties{DBRef: "default", PageSize: 20}
		if err := configbinder.BindStringProperties(properties, &p); err != nil {
			return nil, err
		}
		return NewCoinReader(scope, resolver, p)
	})
}

var Module = fx.Invoke(RegisterBuilders)
