// Package reader registers the readers of the transactions job.
package reader

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/batchflow/example/transactions/internal/domain/entity"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/reader"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// JSL refs.
const (
	TransactionReaderRef     = "transactionReader"
	MerchantBalanceReaderRef = "merchantBalanceReader"
	MonthBalanceReaderRef    = "monthBalanceReader"
)

// Properties are the JSL properties shared by the readers.
type Properties struct {
	DBRef    string `yaml:"db-ref"`
	PageSize int    `yaml:"page-size"`
}

func propertiesOf(properties map[string]string) (Properties, error) {
	p := Properties{DBRef: "default"}
	if err := configbinder.BindStringProperties(properties, &p); err != nil {
		return p, err
	}
	return p, nil
}

// Transactions orders every transaction by time. Ties are broken by merchant and then
// by the larger amount first, so that the order, and with it the running balance, is stable.
func Transactions(db *gorm.DB) *gorm.DB {
	return db.Model(&entity.Transaction{}).Order("datetime, merchant, amount DESC, id")
}

// MerchantBalances totals the amounts per merchant, largest balance first.
func MerchantBalances(db *gorm.DB) *gorm.DB {
	return db.Table("transactions").
		Select("merchant, SUM(amount) AS balance").
		Group("merchant").
		Order("balance DESC, merchant")
}

// MonthBalances totals the amounts per calendar month. Datetimes are stored as
// "YYYY-MM-DD hh:mm:ss", so the month is their first seven characters.
func MonthBalances(db *gorm.DB) *gorm.DB {
	return db.Table("transactions").
		Select("SUBSTR(datetime, 1, 7) AS month, SUM(amount) AS balance").
		Group("SUBSTR(datetime, 1, 7)").
		Order("month")
}

func builder[T any](resolver database.DBConnectionResolver, query reader.QueryFunc, defaultPageSize int) jsl.ReaderBuilder {
	return func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemReader, error) {
		p, err := propertiesOf(properties)
		if err != nil {
			return nil, err
		}
		if p.PageSize <= 0 {
			p.PageSize = defaultPageSize
		}
		return reader.NewGormPagedReader[T](scope.StepName, resolver, p.DBRef, query, p.PageSize), nil
	}
}

// RegisterBuilders registers the readers.
func RegisterBuilders(registry *jsl.Registry, resolver database.DBConnectionResolver) {
	registry.RegisterReader(TransactionReaderRef, builder[entity.Transaction](resolver, Transactions, reader.DefaultPageSize))
	registry.RegisterReader(MerchantBalanceReaderRef, builder[entity.MerchantBalance](resolver, MerchantBalances, 10))
	registry.RegisterReader(MonthBalanceReaderRef, builder[entity.MonthBalance](resolver, MonthBalances, 10))
	logger.Debugf("Transactions readers registered: %s, %s, %s", TransactionReaderRef, MerchantBalanceReaderRef, MonthBalanceReaderRef)
}

// Module registers the readers with the JSL registry.
var Module = fx.Invoke(RegisterBuilders)
