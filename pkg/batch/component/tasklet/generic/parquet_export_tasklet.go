package generic

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/database"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ExportedCountKey is the step context key holding the number of exported rows.
const ExportedCountKey = "parquet_export.exported"

// ParquetExportConfig holds the JSL properties of a ParquetExportTasklet.
type ParquetExportConfig struct {
	DBRef          string                     `yaml:"db-ref"`
	ReadBufferSize int                        `yaml:"read-buffer-size"`
	Writer         writer.ParquetWriterConfig `yaml:"-"`
}

// ParquetExportConfigFrom binds and validates the properties.
func ParquetExportConfigFrom(properties map[string]string) (ParquetExportConfig, error) {
	var cfg ParquetExportConfig
	if err := configbinder.BindStringProperties(properties, &cfg); err != nil {
		return cfg, err
	}
	if cfg.DBRef == "" {
		return cfg, exception.NewBatchErrorf("tasklet", "parquet export requires the 'db-ref' property")
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = reader.DefaultPageSize
	}
	wcfg, err := writer.ParquetWriterConfigFrom(properties)
	if err != nil {
		return cfg, err
	}
	cfg.Writer = wcfg
	return cfg, nil
}

// ParquetExportTasklet copies the rows selected by a query into Parquet objects, one per
// partition key, in a single step execution.
type ParquetExportTasklet[T any] struct {
	name   string
	cfg    ParquetExportConfig
	reader *reader.GormPagedReader[T]
	writer *writer.ParquetWriter[T]
}

// NewParquetExportTasklet creates the tasklet. fileTag distinguishes the objects of one
// execution from those of another.
func NewParquetExportTasklet[T any](
	name string,
	cfg ParquetExportConfig,
	dbResolver database.DBConnectionResolver,
	storageResolver storage.StorageConnectionResolver,
	query reader.QueryFunc,
	fileTag string,
	partitionKey func(item T) (string, error),
) *ParquetExportTasklet[T] {
	return &ParquetExportTasklet[T]{
		name:   name,
		cfg:    cfg,
		reader: reader.NewGormPagedReader[T](name, dbResolver, cfg.DBRef, query, cfg.ReadBufferSize),
		writer: writer.NewParquetWriter[T](name, cfg.Writer, storageResolver, fileTag, partitionKey),
	}
}

func (t *ParquetExportTasklet[T]) Execute(ctx context.Context, stepExecution *model.StepExecution) (status model.ExitStatus, err error) {
	noTx, err := tx.NewNoOpTransactionManager().Begin(ctx)
	if err != nil {
		return model.ExitStatusFailed, err
	}
	if err := t.reader.Open(ctx, model.NewExecutionContext()); err != nil {
		return model.ExitStatusFailed, err
	}
	if err := t.writer.Open(ctx, model.NewExecutionContext()); err != nil {
		_ = t.reader.Close(ctx)
		return model.ExitStatusFailed, err
	}
	defer func() {
		var errs *multierror.Error
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if cerr := t.reader.Close(ctx); cerr != nil {
			errs = multierror.Append(errs, cerr)
		}
		// The objects are uploaded on close, only after a complete read.
		if err == nil {
			if cerr := t.writer.Close(ctx); cerr != nil {
				errs = multierror.Append(errs, cerr)
			}
		}
		if e := errs.ErrorOrNil(); e != nil {
			status, err = model.ExitStatusFailed, e
		}
	}()

	exported := 0
	batch := make([]interface{}, 0, t.cfg.ReadBufferSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := t.writer.Write(ctx, noTx, batch); err != nil {
			return err
		}
		if _, err := t.writer.GetExecutionContext(ctx); err != nil {
			return err
		}
		exported += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return model.ExitStatusStopped, err
		}
		item, err := t.reader.Read(ctx)
		if errors.Is(err, port.ErrNoMoreItems) {
			break
		}
		if err != nil {
			return model.ExitStatusFailed, err
		}
		batch = append(batch, item)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return model.ExitStatusFailed, err
			}
		}
	}
	if err := flush(); err != nil {
		return model.ExitStatusFailed, err
	}

	stepExecution.ExecutionContext.Put(ExportedCountKey, exported)
	logger.Infof("ParquetExportTasklet '%s': exported %d rows to '%s'.", t.name, exported, t.cfg.Writer.OutputBaseDir)
	return model.ExitStatusCompleted, nil
}

func (t *ParquetExportTasklet[T]) Close(ctx context.Context) error { return nil }

var _ port.Tasklet = (*ParquetExportTasklet[struct{}])(nil)
