// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

var testParamsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
}, nil)

func TestWriteRequestReadRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	params := Row{"name": "alice"}
	if err := WriteRequest(&buf, testParamsSchema, params, "greet", "req-1", LogInfo); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	req, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	defer req.Batch.Release()

	if req.Method != "greet" {
		t.Errorf("Method = %q, want %q", req.Method, "greet")
	}
	if req.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want %q", req.RequestID, "req-1")
	}
	if req.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want %q", req.LogLevel, LogInfo)
	}

	rows, err := req.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "alice" {
		t.Errorf("rows mismatch: %+v", rows)
	}
}

func TestReadRequestRejectsWrongVersion(t *testing.T) {
	batch, err := RowsToBatch(nil, testParamsSchema, []Row{{"name": "x"}})
	if err != nil {
		t.Fatalf("RowsToBatch: %v", err)
	}
	defer batch.Release()

	meta := arrow.NewMetadata([]string{MetaMethod, MetaRequestVersion}, []string{"greet", "99"})
	batchWithMeta := array.NewRecordBatchWithMetadata(testParamsSchema, batch.Columns(), batch.NumRows(), meta)
	defer batchWithMeta.Release()

	var buf bytes.Buffer
	w := newTestWriter(&buf, testParamsSchema)
	if err := w.Write(batchWithMeta); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = ReadRequest(&buf)
	if err == nil {
		t.Fatal("expected an error for an unsupported request version")
	}
	var rpcErr *RpcError
	if !errors.As(err, &rpcErr) || rpcErr.Type != "VersionError" {
		t.Errorf("got %v, want a VersionError", err)
	}
}

func TestWriteErrorResponseRoundTrip(t *testing.T) {
	resultSchema := arrow.NewSchema([]arrow.Field{
		{Name: "result", Type: arrow.BinaryTypes.String},
	}, nil)

	var buf bytes.Buffer
	callErr := &RpcError{Type: "ValueError", Message: "bad input"}
	if err := WriteErrorResponse(&buf, resultSchema, callErr, "server-1", "req-2", false); err != nil {
		t.Fatalf("WriteErrorResponse: %v", err)
	}

	var decoded error
	readAllBatches(t, &buf, func(batch arrow.Record) {
		if ClassifyBatch(batch) == BatchError {
			decoded = DecodeErrorBatch(batch)
		}
	})

	if decoded == nil {
		t.Fatal("expected an error batch")
	}
	var rpcErr *RpcError
	if !errors.As(decoded, &rpcErr) {
		t.Fatalf("decoded error is not *RpcError: %T", decoded)
	}
	if rpcErr.Type != "ValueError" || rpcErr.Message != "bad input" {
		t.Errorf("decoded error mismatch: %+v", rpcErr)
	}
	if !errors.Is(decoded, ErrRpc) {
		t.Error("errors.Is(decoded, ErrRpc) = false, want true")
	}
}

func TestWriteVoidResponse(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteVoidResponse(&buf, []LogMessage{{Level: LogInfo, Message: "hello"}}, "server-1", "req-3"); err != nil {
		t.Fatalf("WriteVoidResponse: %v", err)
	}

	var sawLog bool
	var sawData bool
	readAllBatches(t, &buf, func(batch arrow.Record) {
		switch ClassifyBatch(batch) {
		case BatchLog:
			sawLog = true
			msg := DecodeLogBatch(batch)
			if msg.Message != "hello" {
				t.Errorf("log message = %q, want %q", msg.Message, "hello")
			}
		case BatchData:
			sawData = true
			if batch.NumRows() != 0 {
				t.Errorf("void result batch should have 0 rows, got %d", batch.NumRows())
			}
		}
	})
	if !sawLog {
		t.Error("expected a log batch")
	}
	if !sawData {
		t.Error("expected a zero-row data batch")
	}
}

func TestClassifyBatchStateToken(t *testing.T) {
	schema := arrow.NewSchema(nil, nil)
	var buf bytes.Buffer
	w := newTestWriter(&buf, schema)
	if err := writeStateTokenBatch(w, schema, "token-value", "", ""); err != nil {
		t.Fatalf("writeStateTokenBatch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var sawToken bool
	readAllBatches(t, &buf, func(batch arrow.Record) {
		if ClassifyBatch(batch) == BatchStateToken {
			sawToken = true
		}
	})
	if !sawToken {
		t.Error("expected batch to classify as BatchStateToken")
	}
}
