package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ParquetContentType is the MIME type of the uploaded objects.
const ParquetContentType = "application/vnd.apache.parquet"

// ParquetWriterConfig holds the JSL properties of a ParquetWriter.
type ParquetWriterConfig struct {
	StorageRef      string `yaml:"storage-ref"`
	OutputBaseDir   string `yaml:"output-base-dir"`
	CompressionType string `yaml:"compression-type"` // SNAPPY (default), GZIP or NONE.
}

// ParquetWriterConfigFrom binds and validates the properties.
func ParquetWriterConfigFrom(properties map[string]string) (ParquetWriterConfig, error) {
	var cfg ParquetWriterConfig
	if err := configbinder.BindStringProperties(properties, &cfg); err != nil {
		return cfg, err
	}
	if cfg.StorageRef == "" {
		return cfg, fmt.Errorf("parquet writer requires the 'storage-ref' property")
	}
	if cfg.OutputBaseDir == "" {
		return cfg, fmt.Errorf("parquet writer requires the 'output-base-dir' property")
	}
	if cfg.CompressionType == "" {
		cfg.CompressionType = "SNAPPY"
	}
	if _, err := compressionCodec(cfg.CompressionType); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParquetWriter buffers items of type T per partition key and, on Close, uploads one
// Parquet file per key under "<output-base-dir>/<key>/data_<file-tag>.parquet". T carries
// the parquet struct tags describing the schema.
//
// As for the JSONLinesWriter, only committed chunks are written. Each execution writes its
// own files, named after fileTag, so a restart adds files for the remaining items.
type ParquetWriter[T any] struct {
	name         string
	cfg          ParquetWriterConfig
	resolver     storage.StorageConnectionResolver
	partitionKey func(item T) (string, error)
	fileTag      string

	conn      storage.StorageConnection
	committed map[string][]T
	pending   map[string][]T
	written   int
}

// NewParquetWriter creates the writer. fileTag makes the file names unique per execution,
// typically the job execution id and the step name.
func NewParquetWriter[T any](name string, cfg ParquetWriterConfig, resolver storage.StorageConnectionResolver, fileTag string, partitionKey func(item T) (string, error)) *ParquetWriter[T] {
	return &ParquetWriter[T]{
		name:         name,
		cfg:          cfg,
		resolver:     resolver,
		partitionKey: partitionKey,
		fileTag:      sanitize(fileTag),
		committed:    make(map[string][]T),
		pending:      make(map[string][]T),
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

func (w *ParquetWriter[T]) writtenKey() string {
	return w.name + ".written"
}

// Open resolves the storage connection.
func (w *ParquetWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := w.resolver.ResolveStorageConnection(ctx, w.cfg.StorageRef)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to resolve storage '%s'", w.name, w.cfg.StorageRef), err, false, false)
	}
	w.conn = conn
	w.committed = make(map[string][]T)
	w.pending = make(map[string][]T)
	w.written, _ = ec.GetInt(w.writtenKey())
	return nil
}

// Write buffers the items under their partition key.
func (w *ParquetWriter[T]) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	keyed := make(map[string][]T)
	for i, raw := range items {
		item, ok := raw.(T)
		if !ok {
			return exception.NewBatchErrorf("writer", "ParquetWriter '%s': unexpected item type %T at index %d", w.name, raw, i)
		}
		key, err := w.partitionKey(item)
		if err != nil {
			return exception.NewSkippableError("writer", fmt.Sprintf("ParquetWriter '%s': no partition key for item at index %d", w.name, i), err)
		}
		keyed[key] = append(keyed[key], item)
	}
	for key, rows := range keyed {
		w.pending[key] = append(w.pending[key], rows...)
	}
	return nil
}

// GetExecutionContext is called once the chunk is committed: pending items become part of
// the files.
func (w *ParquetWriter[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	for key, rows := range w.pending {
		w.committed[key] = append(w.committed[key], rows...)
		w.written += len(rows)
	}
	w.pending = make(map[string][]T)

	ec := model.NewExecutionContext()
	ec.Put(w.writtenKey(), w.written)
	return ec, nil
}

// ObjectName returns the object a partition key is uploaded to.
func (w *ParquetWriter[T]) ObjectName(key string) string {
	return path.Join(w.cfg.OutputBaseDir, key, fmt.Sprintf("data_%s.parquet", w.fileTag))
}

// Close encodes and uploads one file per partition key. Failures of individual keys are
// collected and returned together.
func (w *ParquetWriter[T]) Close(ctx context.Context) error {
	if w.conn == nil || len(w.committed) == 0 {
		return nil
	}
	codec, err := compressionCodec(w.cfg.CompressionType)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s'", w.name), err, false, false)
	}

	keys := make([]string, 0, len(w.committed))
	for key := range w.committed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var result *multierror.Error
	for _, key := range keys {
		rows := w.committed[key]
		buf, err := w.encode(rows, codec)
		if err != nil {
			result = multierror.Append(result, exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to encode partition '%s'", w.name, key), err, false, false))
			continue
		}
		objectName := w.ObjectName(key)
		if err := w.conn.Upload(ctx, "", objectName, buf, ParquetContentType); err != nil {
			result = multierror.Append(result, exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to upload '%s'", w.name, objectName), err, false, true))
			continue
		}
		logger.Infof("ParquetWriter '%s': uploaded %d rows to %s/%s.", w.name, len(rows), w.cfg.StorageRef, objectName)
	}
	w.committed = make(map[string][]T)
	return result.ErrorOrNil()
}

func (w *ParquetWriter[T]) encode(rows []T, codec parquet.CompressionCodec) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := pqwriter.NewParquetWriterFromWriter(buf, new(T), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	// WriteStop panics on some malformed schemas.
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf, nil
}

var _ port.ItemWriter = (*ParquetWriter[struct{}])(nil)
