package writer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// JSONLinesContentType is the MIME type of the uploaded objects.
const JSONLinesContentType = "application/x-ndjson"

// JSONLinesWriter writes one JSON document per item and uploads the object on Close.
//
// Lines of a chunk are kept apart until the chunk step collects the writer state after
// the commit, so a rolled back chunk never reaches the object. The number of committed
// lines is saved under "<name>.written"; on restart the object uploaded by the previous
// execution is downloaded and its committed lines are kept.
type JSONLinesWriter struct {
	name       string
	resolver   storage.StorageConnectionResolver
	storageRef string
	objectName string

	conn         storage.StorageConnection
	committed    bytes.Buffer
	written      int
	pending      bytes.Buffer
	pendingCount int
}

// NewJSONLinesWriter creates a writer uploading objectName to the storage connection storageRef.
func NewJSONLinesWriter(name string, resolver storage.StorageConnectionResolver, storageRef, objectName string) *JSONLinesWriter {
	return &JSONLinesWriter{name: name, resolver: resolver, storageRef: storageRef, objectName: objectName}
}

func (w *JSONLinesWriter) writtenKey() string {
	return w.name + ".written"
}

// Open resolves the storage connection and restores the committed lines.
func (w *JSONLinesWriter) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := w.resolver.ResolveStorageConnection(ctx, w.storageRef)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("JSONLinesWriter '%s': failed to resolve storage '%s'", w.name, w.storageRef), err, false, false)
	}
	w.conn = conn
	w.committed.Reset()
	w.pending.Reset()
	w.written, w.pendingCount = 0, 0

	saved, _ := ec.GetInt(w.writtenKey())
	if saved > 0 {
		if err := w.restore(ctx, saved); err != nil {
			return err
		}
		logger.Infof("JSONLinesWriter '%s': resuming after %d committed lines.", w.name, saved)
	}
	return nil
}

func (w *JSONLinesWriter) restore(ctx context.Context, lines int) error {
	r, err := w.conn.Download(ctx, "", w.objectName)
	if err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("JSONLinesWriter '%s': cannot resume, previous output '%s' is unavailable", w.name, w.objectName), err, false, false)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for w.written < lines && scanner.Scan() {
		w.committed.Write(scanner.Bytes())
		w.committed.WriteByte('\n')
		w.written++
	}
	if err := scanner.Err(); err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("JSONLinesWriter '%s': failed to read previous output", w.name), err, false, false)
	}
	if w.written < lines {
		return exception.NewBatchErrorf("writer", "JSONLinesWriter '%s': previous output has %d lines, %d were committed", w.name, w.written, lines)
	}
	return nil
}

// Write encodes the items. An item that cannot be encoded fails the whole call with a
// skippable error and nothing of the call is kept.
func (w *JSONLinesWriter) Write(ctx context.Context, t tx.Tx, items []interface{}) error {
	var chunk bytes.Buffer
	enc := json.NewEncoder(&chunk)
	for i, item := range items {
		if err := enc.Encode(item); err != nil {
			return exception.NewSkippableError("writer", fmt.Sprintf("JSONLinesWriter '%s': cannot encode item at index %d", w.name, i), err)
		}
	}
	w.pending.Write(chunk.Bytes())
	w.pendingCount += len(items)
	return nil
}

// GetExecutionContext is called once the chunk is committed: the pending lines become
// part of the object.
func (w *JSONLinesWriter) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	w.committed.Write(w.pending.Bytes())
	w.written += w.pendingCount
	w.pending.Reset()
	w.pendingCount = 0

	ec := model.NewExecutionContext()
	ec.Put(w.writtenKey(), w.written)
	return ec, nil
}

// Close uploads the committed lines. Nothing is uploaded when no line was committed.
func (w *JSONLinesWriter) Close(ctx context.Context) error {
	if w.conn == nil {
		return nil
	}
	if w.written == 0 {
		logger.Infof("JSONLinesWriter '%s': no committed lines, skipping upload of '%s'.", w.name, w.objectName)
		return nil
	}
	if err := w.conn.Upload(ctx, "", w.objectName, bytes.NewReader(w.committed.Bytes()), JSONLinesContentType); err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("JSONLinesWriter '%s': failed to upload '%s'", w.name, w.objectName), err, false, true)
	}
	logger.Infof("JSONLinesWriter '%s': uploaded %d lines to %s/%s.", w.name, w.written, w.storageRef, w.objectName)
	return nil
}

var _ port.ItemWriter = (*JSONLinesWriter)(nil)
