// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ProducerState is implemented by a producer method's running state.
// Produce is called once per client tick. It must either emit exactly one
// data batch via the OutputCollector, or call out.Finish() to end the
// stream.
type ProducerState interface {
	Produce(ctx context.Context, out *OutputCollector, call *CallContext) error
}

// ExchangeState is implemented by an exchange method's running state.
// Exchange is called once per input batch and must emit exactly one output
// batch. It must never call out.Finish(); an exchange stream only ends
// when the client stops sending input.
type ExchangeState interface {
	Exchange(ctx context.Context, input arrow.Record, out *OutputCollector, call *CallContext) error
}

// StreamResult is returned by a producer or exchange handler when the
// stream is successfully opened.
type StreamResult struct {
	OutputSchema *arrow.Schema
	State        any // ProducerState or ExchangeState, matching the method's registered kind
	HeaderRow    Row // optional; written as a one-row header stream before data begins
}

// annotatedBatch is an output batch together with optional out-of-band
// metadata (for log/error batches interleaved with data).
type annotatedBatch struct {
	batch arrow.Record
	meta  *arrow.Metadata
}

// OutputCollector accumulates the batches produced by a single
// Produce/Exchange call. Exactly one data batch must be emitted per call
// (enforced by validate), in addition to any number of log batches, which
// must precede the data batch they annotate on the wire.
type OutputCollector struct {
	schema       *arrow.Schema
	batches      []annotatedBatch
	dataBatchIdx int
	finished     bool
	producerMode bool
	serverID     string
}

func newOutputCollector(schema *arrow.Schema, serverID string, producerMode bool) *OutputCollector {
	return &OutputCollector{
		schema:       schema,
		dataBatchIdx: -1,
		producerMode: producerMode,
		serverID:     serverID,
	}
}

// Emit adds a pre-built data batch. At most one data batch may be emitted
// per call.
func (o *OutputCollector) Emit(batch arrow.Record) error {
	if o.dataBatchIdx >= 0 {
		return fmt.Errorf("OutputCollector: only one data batch may be emitted per call")
	}
	if batch.Schema() != o.schema {
		original := batch
		batch = array.NewRecordBatch(o.schema, batch.Columns(), batch.NumRows())
		original.Release()
	}
	o.dataBatchIdx = len(o.batches)
	o.batches = append(o.batches, annotatedBatch{batch: batch})
	return nil
}

// EmitRows builds a batch from Row values using the output schema and
// emits it.
func (o *OutputCollector) EmitRows(rows []Row) error {
	batch, err := RowsToBatch(memory.NewGoAllocator(), o.schema, rows)
	if err != nil {
		return err
	}
	return o.Emit(batch)
}

// Finish signals end-of-stream for a producer method. Calling Finish on an
// exchange stream's collector is an error: exchange streams only end when
// the client stops sending input.
func (o *OutputCollector) Finish() error {
	if !o.producerMode {
		return fmt.Errorf("OutputCollector: Finish is not allowed on exchange streams")
	}
	o.finished = true
	return nil
}

// Finished reports whether Finish has been called.
func (o *OutputCollector) Finished() bool {
	return o.finished
}

// ClientLog queues a zero-row log batch ahead of whatever data batch this
// call eventually emits.
func (o *OutputCollector) ClientLog(level LogLevel, message string, extras ...KV) {
	keys := []string{MetaLogLevel, MetaLogMessage}
	vals := []string{string(level), message}

	if len(extras) > 0 {
		extraMap := make(map[string]string, len(extras))
		for _, kv := range extras {
			extraMap[kv.Key] = kv.Value
		}
		extraJSON, _ := json.Marshal(extraMap)
		keys = append(keys, MetaLogExtra)
		vals = append(vals, string(extraJSON))
	}
	if o.serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, o.serverID)
	}

	meta := arrow.NewMetadata(keys, vals)
	batch := emptyBatch(o.schema)
	o.batches = append(o.batches, annotatedBatch{batch: batch, meta: &meta})
}

func (o *OutputCollector) validate() error {
	if o.dataBatchIdx < 0 {
		return &RpcError{Type: "RuntimeError", Message: "no data batch was emitted"}
	}
	return nil
}
