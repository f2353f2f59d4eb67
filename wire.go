// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// BatchKind classifies a received batch based on its metadata, letting a
// client tell an ordinary data batch apart from the out-of-band batches a
// handler or the server itself may interleave on the same stream.
type BatchKind int

const (
	BatchData        BatchKind = iota // regular data batch
	BatchLog                          // client-directed log batch
	BatchError                        // error/exception batch
	BatchStateToken                   // HTTP stateful stream continuation token
)

// ClassifyBatch inspects a batch's custom_metadata and reports what kind of
// batch it is.
func ClassifyBatch(batch arrow.Record) BatchKind {
	meta := batchMetadata(batch)
	if level, ok := meta.GetValue(MetaLogLevel); ok {
		if LogLevel(level) == LogException {
			return BatchError
		}
		return BatchLog
	}
	if _, ok := meta.GetValue(MetaStreamState); ok {
		return BatchStateToken
	}
	return BatchData
}

func batchMetadata(batch arrow.Record) arrow.Metadata {
	if rb, ok := batch.(arrow.RecordWithMetadata); ok {
		return rb.Metadata()
	}
	return arrow.Metadata{}
}

// Request is a parsed RPC request read off a transport.
type Request struct {
	Method    string
	Version   string
	RequestID string
	LogLevel  LogLevel
	Batch     arrow.Record
	Metadata  map[string]string
}

// Rows decodes the request's single parameter batch into Row values.
func (r *Request) Rows() ([]Row, error) {
	return BatchToRows(r.Batch)
}

// ReadRequest reads one complete IPC stream from r and extracts the method
// name, version, and parameter batch from its first message.
func ReadRequest(r io.Reader) (*Request, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading request IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("reading request batch: %w", err)
		}
		return nil, io.EOF
	}

	batch := reader.RecordBatch()
	batch.Retain()

	meta := batchMetadata(batch)

	method, ok := meta.GetValue(MetaMethod)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    "ProtocolError",
			Message: fmt.Sprintf("missing %q in request batch custom_metadata", MetaMethod),
		}
	}

	version, ok := meta.GetValue(MetaRequestVersion)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    "VersionError",
			Message: fmt.Sprintf("missing %q in request batch custom_metadata", MetaRequestVersion),
		}
	}
	if version != RequestVersion {
		batch.Release()
		return nil, &RpcError{
			Type:    "VersionError",
			Message: fmt.Sprintf("unsupported request version %q, expected %q", version, RequestVersion),
		}
	}

	if batch.Schema().NumFields() > 0 && batch.NumRows() != 1 {
		batch.Release()
		return nil, &RpcError{
			Type:    "ProtocolError",
			Message: fmt.Sprintf("expected 1 row in request batch, got %d", batch.NumRows()),
		}
	}

	requestID, _ := meta.GetValue(MetaRequestID)
	logLevel, _ := meta.GetValue(MetaLogLevel)

	for reader.Next() {
		// A request carries exactly one batch; anything further is drained
		// so the transport stays aligned for the next message.
	}

	metaMap := make(map[string]string)
	for i := range meta.Len() {
		metaMap[meta.Keys()[i]] = meta.Values()[i]
	}

	return &Request{
		Method:    method,
		Version:   version,
		RequestID: requestID,
		LogLevel:  LogLevel(logLevel),
		Batch:     batch,
		Metadata:  metaMap,
	}, nil
}

// WriteRequest encodes a single-row (or zero-field) parameter batch as a
// complete request IPC stream, attaching the custom_metadata a server's
// ReadRequest expects: method name, protocol version, an optional request
// ID, and the client's minimum log level. Used by both the pipe and HTTP
// client transports to build the bytes a unary call or a stream's /init
// request sends.
func WriteRequest(w io.Writer, schema *arrow.Schema, params Row, method, requestID string, logLevel LogLevel) error {
	batch, err := RowsToBatch(nil, schema, []Row{params})
	if err != nil {
		return fmt.Errorf("encoding request parameters: %w", err)
	}
	defer batch.Release()

	keys := []string{MetaMethod, MetaRequestVersion}
	vals := []string{method, RequestVersion}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	if logLevel != "" {
		keys = append(keys, MetaLogLevel)
		vals = append(vals, string(logLevel))
	}
	meta := arrow.NewMetadata(keys, vals)
	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), batch.NumRows(), meta)
	defer batchWithMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(batchWithMeta); err != nil {
		return err
	}
	return writer.Close()
}

// WriteExchangeRequest encodes an exchange round's input batch as a
// complete IPC stream carrying the continuation token in its
// custom_metadata, the request shape the HTTP transport's /exchange route
// expects. An empty token writes the batch without metadata. The pipe
// transport does not use it: its rounds share one long-lived input stream.
func WriteExchangeRequest(w io.Writer, schema *arrow.Schema, rows []Row, token string) error {
	batch, err := RowsToBatch(nil, schema, rows)
	if err != nil {
		return fmt.Errorf("encoding exchange input: %w", err)
	}
	defer batch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if token != "" {
		meta := arrow.NewMetadata([]string{MetaStreamState}, []string{token})
		batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), batch.NumRows(), meta)
		defer batchWithMeta.Release()
		if err := writer.Write(batchWithMeta); err != nil {
			return err
		}
	} else {
		if err := writer.Write(batch); err != nil {
			return err
		}
	}
	return writer.Close()
}

func emptyBatch(schema *arrow.Schema) arrow.Record {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		builder := array.NewBuilder(mem, f.Type)
		cols[i] = builder.NewArray()
		builder.Release()
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

func writeLogBatch(w *ipc.Writer, schema *arrow.Schema, msg LogMessage, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage}
	vals := []string{string(msg.Level), msg.Message}

	if len(msg.Extras) > 0 {
		extraJSON, err := json.Marshal(msg.Extras)
		if err != nil {
			extraJSON = []byte(`{}`)
		}
		keys = append(keys, MetaLogExtra)
		vals = append(vals, string(extraJSON))
	}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	meta := arrow.NewMetadata(keys, vals)
	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, meta)
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

func writeErrorBatch(w *ipc.Writer, schema *arrow.Schema, err error, serverID, requestID string, debugErrors bool) error {
	extraJSON := buildErrorExtra(err, debugErrors)

	keys := []string{MetaLogLevel, MetaLogMessage, MetaLogExtra}
	vals := []string{string(LogException), err.Error(), extraJSON}

	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	meta := arrow.NewMetadata(keys, vals)
	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, meta)
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

// writeStateTokenBatch writes a zero-row batch carrying a packed,
// HMAC-signed continuation token in its stream_state metadata key. Used by
// the HTTP transport to hand stateful producer/exchange progress back to a
// stateless client.
func writeStateTokenBatch(w *ipc.Writer, schema *arrow.Schema, token string, serverID, requestID string) error {
	keys := []string{MetaStreamState}
	vals := []string{token}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	meta := arrow.NewMetadata(keys, vals)
	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, meta)
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

// WriteUnaryResponse writes a complete IPC stream: schema + log batches +
// a single result batch + EOS.
func WriteUnaryResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage,
	result arrow.Record, serverID, requestID string) error {

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()

	for _, logMsg := range logs {
		if err := writeLogBatch(writer, schema, logMsg, serverID, requestID); err != nil {
			return fmt.Errorf("writing log batch: %w", err)
		}
	}
	return writer.Write(result)
}

// WriteErrorResponse writes a complete IPC stream containing just an error
// batch.
func WriteErrorResponse(w io.Writer, schema *arrow.Schema, err error, serverID, requestID string, debugErrors bool) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()

	return writeErrorBatch(writer, schema, err, serverID, requestID, debugErrors)
}

// WriteVoidResponse writes a complete IPC stream with logs and a zero-row,
// empty-schema result batch — used for methods with no declared result.
func WriteVoidResponse(w io.Writer, logs []LogMessage, serverID, requestID string) error {
	schema := arrow.NewSchema(nil, nil)
	batch := emptyBatch(schema)
	defer batch.Release()

	return WriteUnaryResponse(w, schema, logs, batch, serverID, requestID)
}
