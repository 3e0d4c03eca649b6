// Package reader provides item readers over external resources.
package reader

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 100

// QueryFunc scopes the base query: table, columns, conditions and a stable order.
type QueryFunc func(db *gorm.DB) *gorm.DB

// GormPagedReader reads rows of type T page by page with OFFSET/LIMIT. Its position is the
// number of source rows consumed, saved under "<name>.offset", so a restarted step resumes
// after the last committed row. The query must order rows deterministically.
//
// When the chunk transaction was begun on the same connection, pages are read through it;
// otherwise they are read from the connection pool.
type GormPagedReader[T any] struct {
	name     string
	resolver database.DBConnectionResolver
	dbName   string
	query    QueryFunc
	pageSize int
	accept   func(row T) bool

	offset    int
	page      []T
	pos       int
	exhausted bool
}

// NewGormPagedReader creates a reader over the connection dbName.
func NewGormPagedReader[T any](name string, resolver database.DBConnectionResolver, dbName string, query QueryFunc, pageSize int) *GormPagedReader[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &GormPagedReader[T]{
		name:     name,
		resolver: resolver,
		dbName:   dbName,
		query:    query,
		pageSize: pageSize,
	}
}

// WithFilter sets a row predicate. Rejected rows are consumed without being returned;
// partition workers use it to select their share of a shared query.
func (r *GormPagedReader[T]) WithFilter(accept func(row T) bool) *GormPagedReader[T] {
	r.accept = accept
	return r
}

func (r *GormPagedReader[T]) offsetKey() string {
	return r.name + ".offset"
}

// Open restores the position saved in ec.
func (r *GormPagedReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.offset, _ = ec.GetInt(r.offsetKey())
	r.page, r.pos, r.exhausted = nil, 0, false
	if r.offset > 0 {
		logger.Infof("GormPagedReader '%s': resuming from offset %d.", r.name, r.offset)
	}
	return nil
}

// Read returns the next accepted row or port.ErrNoMoreItems.
func (r *GormPagedReader[T]) Read(ctx context.Context) (interface{}, error) {
	for {
		if r.pos >= len(r.page) {
			if r.exhausted {
				return nil, port.ErrNoMoreItems
			}
			if err := r.fetch(ctx); err != nil {
				return nil, err
			}
			continue
		}
		row := r.page[r.pos]
		r.pos++
		r.offset++
		if r.accept != nil && !r.accept(row) {
			continue
		}
		return row, nil
	}
}

func (r *GormPagedReader[T]) fetch(ctx context.Context) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	var rows []T
	if err := r.query(db.WithContext(ctx)).Offset(r.offset).Limit(r.pageSize).Find(&rows).Error; err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("GormPagedReader '%s': failed to read page at offset %d", r.name, r.offset), err, false, true)
	}
	r.page, r.pos = rows, 0
	r.exhausted = len(rows) < r.pageSize
	logger.Debugf("GormPagedReader '%s': fetched %d rows at offset %d.", r.name, len(rows), r.offset)
	return nil
}

func (r *GormPagedReader[T]) db(ctx context.Context) (*gorm.DB, error) {
	if t, ok := tx.FromContext(ctx); ok {
		if gormTx, err := gormadapter.AsGormTx(t); err == nil && gormTx.DBName() == r.dbName {
			return gormTx.DB(), nil
		}
	}
	conn, err := r.resolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("reader", fmt.Sprintf("GormPagedReader '%s': failed to resolve connection '%s'", r.name, r.dbName), err, false, false)
	}
	adapter, ok := conn.(*gormadapter.GormDBAdapter)
	if !ok {
		return nil, exception.NewBatchErrorf("reader", "GormPagedReader '%s': connection '%s' is not a gorm connection (%T)", r.name, r.dbName, conn)
	}
	return adapter.GetGormDB(), nil
}

func (r *GormPagedReader[T]) Close(ctx context.Context) error {
	r.page = nil
	return nil
}

// GetExecutionContext returns the number of rows consumed.
func (r *GormPagedReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.offsetKey(), r.offset)
	return ec, nil
}

// IsResumable implements port.RestartAware.
func (r *GormPagedReader[T]) IsResumable() bool { return true }

var (
	_ port.ItemReader   = (*GormPagedReader[struct{}])(nil)
	_ port.RestartAware = (*GormPagedReader[struct{}])(nil)
)
