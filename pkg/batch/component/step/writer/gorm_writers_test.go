package writer_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/batchflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/writer"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

type playerScore struct {
	Name  string `gorm:"primaryKey"`
	Total float64
}

type balance struct {
	ID    int64
	Total float64
}

type transaction struct {
	ID      int64 `gorm:"primaryKey"`
	Amount  float64
	Balance float64
}

func newDB(t *testing.T) (*gormadapter.GormTransactionManager, *gorm.DB) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Batch.Database["default"] = dbconfig.DatabaseConfig{
		Type:     sqlite.Type,
		Database: filepath.Join(t.TempDir(), "writer.db"),
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1},
	}
	resolver := gormadapter.NewResolver(cfg, sqlite.NewProvider(cfg))
	t.Cleanup(func() { _ = resolver.CloseAll() })

	conn, err := resolver.ResolveDBConnection(context.Background(), "default")
	require.NoError(t, err)
	db := conn.(*gormadapter.GormDBAdapter).GetGormDB()
	require.NoError(t, db.AutoMigrate(&playerScore{}, &transaction{}))
	return gormadapter.NewGormTransactionManager(resolver, "default"), db
}

func inTx(t *testing.T, tm tx.TransactionManager, fn func(ctx context.Context, t tx.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	chunkTx, err := tm.Begin(ctx)
	require.NoError(t, err)
	if err := fn(tx.WithTx(ctx, chunkTx), chunkTx); err != nil {
		require.NoError(t, tm.Rollback(chunkTx))
		return err
	}
	return tm.Commit(chunkTx)
}

func TestGormExecWriterRunsOneStatementPerItem(t *testing.T) {
	tm, db := newDB(t)
	require.NoError(t, db.Create(&[]transaction{{ID: 1, Amount: 10}, {ID: 2, Amount: -4}}).Error)

	w := writer.NewGormExecWriter[balance]("balances", "UPDATE transactions SET balance = ? WHERE id = ?",
		func(b balance) ([]interface{}, error) { return []interface{}{b.Total, b.ID}, nil })

	require.NoError(t, inTx(t, tm, func(ctx context.Context, t tx.Tx) error {
		return w.Write(ctx, t, []interface{}{balance{ID: 1, Total: 10}, balance{ID: 2, Total: 6}})
	}))

	var rows []transaction
	require.NoError(t, db.Order("id").Find(&rows).Error)
	assert.Equal(t, 10.0, rows[0].Balance)
	assert.Equal(t, 6.0, rows[1].Balance)
}

func TestGormExecWriterRollsBackWithTheChunk(t *testing.T) {
	tm, db := newDB(t)
	require.NoError(t, db.Create(&transaction{ID: 1, Amount: 10}).Error)

	boom := errors.New("boom")
	w := writer.NewGormExecWriter[balance]("balances", "UPDATE transactions SET balance = ? WHERE id = ?",
		func(b balance) ([]interface{}, error) {
			if b.ID == 2 {
				return nil, boom
			}
			return []interface{}{b.Total, b.ID}, nil
		})

	err := inTx(t, tm, func(ctx context.Context, t tx.Tx) error {
		return w.Write(ctx, t, []interface{}{balance{ID: 1, Total: 99}, balance{ID: 2}})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, exception.IsSkippable(err))

	var row transaction
	require.NoError(t, db.First(&row, 1).Error)
	assert.Equal(t, 0.0, row.Balance)
}

func TestGormWritersRequireGormTransaction(t *testing.T) {
	noop := tx.NewNoOpTransactionManager()
	ctx := context.Background()
	noopTx, err := noop.Begin(ctx)
	require.NoError(t, err)

	exec := writer.NewGormExecWriter[balance]("balances", "SELECT 1", func(b balance) ([]interface{}, error) { return nil, nil })
	assert.Error(t, exec.Write(ctx, noopTx, []interface{}{balance{}}))

	upsert := writer.NewGormUpsertWriter[playerScore]("scores", "", []string{"name"}, []string{"total"})
	assert.Error(t, upsert.Write(ctx, noopTx, []interface{}{playerScore{}}))
	assert.NoError(t, upsert.Write(ctx, noopTx, nil))
}

func TestGormUpsertWriterReplacesConflictingRows(t *testing.T) {
	tm, db := newDB(t)
	w := writer.NewGormUpsertWriter[playerScore]("scores", "player_scores", []string{"name"}, []string{"total"})

	require.NoError(t, inTx(t, tm, func(ctx context.Context, t tx.Tx) error {
		return w.Write(ctx, t, []interface{}{playerScore{Name: "alice", Total: 3}, playerScore{Name: "bob", Total: 1}})
	}))
	require.NoError(t, inTx(t, tm, func(ctx context.Context, t tx.Tx) error {
		return w.Write(ctx, t, []interface{}{playerScore{Name: "alice", Total: 8}})
	}))

	var rows []playerScore
	require.NoError(t, db.Order("name").Find(&rows).Error)
	assert.Equal(t, []playerScore{{Name: "alice", Total: 8}, {Name: "bob", Total: 1}}, rows)

	err := inTx(t, tm, func(ctx context.Context, t tx.Tx) error {
		return w.Write(ctx, t, []interface{}{"not a score"})
	})
	assert.ErrorContains(t, err, "unexpected item type string")
}
