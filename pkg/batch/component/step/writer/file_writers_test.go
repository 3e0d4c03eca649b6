package writer_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/batchflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
)

type merchantBalance struct {
	Merchant string  `json:"merchant" parquet:"name=merchant, type=BYTE_ARRAY, convertedtype=UTF8"`
	Balance  float64 `json:"balance" parquet:"name=balance, type=DOUBLE"`
}

func newStorage(t *testing.T) *storage.Resolver {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Batch.Storage["out"] = storageconfig.StorageConfig{Type: local.ProviderType, BaseDir: filepath.Join(t.TempDir(), "out")}
	return storage.NewResolver(cfg, local.NewLocalProvider(cfg))
}

func download(t *testing.T, resolver *storage.Resolver, objectName string) []byte {
	t.Helper()
	conn, err := resolver.ResolveStorageConnection(context.Background(), "out")
	require.NoError(t, err)
	r, err := conn.Download(context.Background(), "", objectName)
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return body
}

func TestJSONLinesWriterUploadsCommittedChunks(t *testing.T) {
	resolver := newStorage(t)
	ctx := context.Background()
	noopTx, _ := tx.NewNoOpTransactionManager().Begin(ctx)

	w := writer.NewJSONLinesWriter("merchants", resolver, "out", "reports/merchants.jsonl")
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, w.Write(ctx, noopTx, []interface{}{merchantBalance{"acme", 12.5}, merchantBalance{"globex", -3}}))
	ec, err := w.GetExecutionContext(ctx)
	require.NoError(t, err)
	written, _ := ec.GetInt("merchants.written")
	assert.Equal(t, 2, written)

	// Written but never committed.
	require.NoError(t, w.Write(ctx, noopTx, []interface{}{merchantBalance{"initech", 1}}))
	require.NoError(t, w.Close(ctx))

	body := download(t, resolver, "reports/merchants.jsonl")
	assert.Equal(t, "{\"merchant\":\"acme\",\"balance\":12.5}\n{\"merchant\":\"globex\",\"balance\":-3}\n", string(body))

	// A restarted execution keeps the committed lines and appends.
	restarted := writer.NewJSONLinesWriter("merchants", resolver, "out", "reports/merchants.jsonl")
	require.NoError(t, restarted.Open(ctx, ec))
	require.NoError(t, restarted.Write(ctx, noopTx, []interface{}{merchantBalance{"initech", 1}}))
	_, err = restarted.GetExecutionContext(ctx)
	require.NoError(t, err)
	require.NoError(t, restarted.Close(ctx))

	lines := strings.Split(strings.TrimSpace(string(download(t, resolver, "reports/merchants.jsonl"))), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "{\"merchant\":\"initech\",\"balance\":1}", lines[2])
}

func TestJSONLinesWriterRejectsUnencodableItems(t *testing.T) {
	resolver := newStorage(t)
	ctx := context.Background()
	noopTx, _ := tx.NewNoOpTransactionManager().Begin(ctx)

	w := writer.NewJSONLinesWriter("months", resolver, "out", "months.jsonl")
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	err := w.Write(ctx, noopTx, []interface{}{merchantBalance{"acme", 1}, make(chan int)})
	require.Error(t, err)

	ec, err := w.GetExecutionContext(ctx)
	require.NoError(t, err)
	written, _ := ec.GetInt("months.written")
	assert.Equal(t, 0, written, "nothing of a failed call is kept")
	require.NoError(t, w.Close(ctx))
}

func TestJSONLinesWriterCannotResumeWithoutPreviousOutput(t *testing.T) {
	resolver := newStorage(t)
	ec := model.NewExecutionContext()
	ec.Put("months.written", 3)
	w := writer.NewJSONLinesWriter("months", resolver, "out", "months.jsonl")
	assert.ErrorContains(t, w.Open(context.Background(), ec), "cannot resume")
}

func TestParquetWriterUploadsOneFilePerKey(t *testing.T) {
	resolver := newStorage(t)
	ctx := context.Background()
	noopTx, _ := tx.NewNoOpTransactionManager().Begin(ctx)

	cfg, err := writer.ParquetWriterConfigFrom(map[string]string{"storage-ref": "out", "output-base-dir": "balances"})
	require.NoError(t, err)
	assert.Equal(t, "SNAPPY", cfg.CompressionType)

	w := writer.NewParquetWriter[merchantBalance]("parquet", cfg, resolver, "exec-1/aggregate:p0",
		func(m merchantBalance) (string, error) { return "merchant=" + m.Merchant, nil })
	assert.Equal(t, "balances/merchant=acme/data_exec-1_aggregate_p0.parquet", w.ObjectName("merchant=acme"))

	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, w.Write(ctx, noopTx, []interface{}{merchantBalance{"acme", 1}, merchantBalance{"acme", 2}, merchantBalance{"globex", 3}}))
	ec, err := w.GetExecutionContext(ctx)
	require.NoError(t, err)
	written, _ := ec.GetInt("parquet.written")
	assert.Equal(t, 3, written)
	require.NoError(t, w.Write(ctx, noopTx, []interface{}{merchantBalance{"initech", 4}}))
	require.NoError(t, w.Close(ctx))

	for _, key := range []string{"merchant=acme", "merchant=globex"} {
		body := download(t, resolver, w.ObjectName(key))
		require.Greater(t, len(body), 8)
		assert.True(t, bytes.HasPrefix(body, []byte("PAR1")))
		assert.True(t, bytes.HasSuffix(body, []byte("PAR1")))
	}

	conn, err := resolver.ResolveStorageConnection(ctx, "out")
	require.NoError(t, err)
	var objects []string
	require.NoError(t, conn.ListObjects(ctx, "", "balances/", func(name string) error {
		objects = append(objects, name)
		return nil
	}))
	assert.Len(t, objects, 2, "the uncommitted key is not uploaded")
}

func TestParquetWriterConfigValidation(t *testing.T) {
	_, err := writer.ParquetWriterConfigFrom(map[string]string{"output-base-dir": "x"})
	assert.ErrorContains(t, err, "storage-ref")
	_, err = writer.ParquetWriterConfigFrom(map[string]string{"storage-ref": "out"})
	assert.ErrorContains(t, err, "output-base-dir")
	_, err = writer.ParquetWriterConfigFrom(map[string]string{"storage-ref": "out", "output-base-dir": "x", "compression-type": "lz4"})
	assert.ErrorContains(t, err, "lz4")
}

func TestJSONLinesWriterBuilder(t *testing.T) {
	resolver := newStorage(t)
	registry := jsl.NewRegistry()
	writer.RegisterBuilders(registry, resolver)

	params := model.NewJobParameters()
	params.Put("date", "2024-05-01")
	params.Put("run", int64(3))
	scope := port.StepScope{StepName: "aggregate_balance_by_merchant", JobParameters: params}
	assert.Equal(t, "merchants/2024-05-01/3.jsonl", writer.ExpandJobParameters("merchants/${date}/${run}.jsonl", scope))

	build, err := registry.Writer(writer.JSONLinesWriterRef)
	require.NoError(t, err)
	w, err := build(context.Background(), scope, map[string]string{"storage-ref": "out", "object-name": "m-${date}.jsonl"})
	require.NoError(t, err)
	assert.IsType(t, &writer.JSONLinesWriter{}, w)

	_, err = build(context.Background(), scope, map[string]string{"storage-ref": "out"})
	assert.Error(t, err)
}
