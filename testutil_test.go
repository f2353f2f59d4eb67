// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// readAllBatches reads every batch of a complete IPC stream and invokes fn
// on each, failing the test on any read error.
func readAllBatches(t *testing.T, r io.Reader, fn func(arrow.Record)) {
	t.Helper()
	reader, err := ipc.NewReader(r)
	if err != nil {
		t.Fatalf("ipc.NewReader: %v", err)
	}
	defer reader.Release()
	for reader.Next() {
		fn(reader.RecordBatch())
	}
	if err := reader.Err(); err != nil {
		t.Fatalf("reading batches: %v", err)
	}
}

func newTestWriter(w io.Writer, schema *arrow.Schema) *ipc.Writer {
	return ipc.NewWriter(w, ipc.WithSchema(schema))
}
