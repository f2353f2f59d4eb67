// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

// Package client implements the caller side of the colrpc wire protocol
// over both of the library's transports: a single ordered duplex byte
// stream (PipeClient) and stateless HTTP (HttpClient). Both satisfy the
// common Client interface and hand off producer and exchange streams to a
// Session so callers drive either transport the same way.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/colrpc/colrpc"
)

// Client is the caller-facing surface common to PipeClient and HttpClient.
type Client interface {
	// Call invokes a unary method and returns its single result row.
	Call(ctx context.Context, method string, params colrpc.Row) (colrpc.Row, error)
	// Stream opens a producer or exchange method and returns a Session for
	// driving its rounds.
	Stream(ctx context.Context, method string, params colrpc.Row) (*Session, error)
	// Describe fetches the server's method registry.
	Describe(ctx context.Context) ([]MethodDescriptor, error)
	// Close releases the underlying transport.
	Close() error
}

// MethodDescriptor mirrors one row of the server's __describe__
// introspection batch.
type MethodDescriptor struct {
	Name          string
	Type          colrpc.MethodType
	Doc           string
	HasReturn     bool
	ParamsSchema  *arrow.Schema
	ResultSchema  *arrow.Schema
	ParamDefaults map[string]any
	HasHeader     bool
	HeaderSchema  *arrow.Schema
}

func decodeSchemaIPC(b []byte) (*arrow.Schema, error) {
	if len(b) == 0 {
		return arrow.NewSchema(nil, nil), nil
	}
	reader, err := ipc.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	defer reader.Release()
	return reader.Schema(), nil
}

func parseDescribeRows(rows []colrpc.Row) ([]MethodDescriptor, error) {
	out := make([]MethodDescriptor, 0, len(rows))
	for _, r := range rows {
		d := MethodDescriptor{Name: toStr(r["name"])}

		switch toStr(r["method_type"]) {
		case "producer":
			d.Type = colrpc.MethodProducer
		case "exchange":
			d.Type = colrpc.MethodExchange
		default:
			d.Type = colrpc.MethodUnary
		}

		if doc, ok := r["doc"].(string); ok {
			d.Doc = doc
		}
		if hr, ok := r["has_return"].(bool); ok {
			d.HasReturn = hr
		}
		if hh, ok := r["has_header"].(bool); ok {
			d.HasHeader = hh
		}

		if b, ok := r["params_schema_ipc"].([]byte); ok {
			if s, err := decodeSchemaIPC(b); err == nil {
				d.ParamsSchema = s
			}
		}
		if b, ok := r["result_schema_ipc"].([]byte); ok {
			if s, err := decodeSchemaIPC(b); err == nil {
				d.ResultSchema = s
			}
		}
		if b, ok := r["header_schema_ipc"].([]byte); ok {
			if s, err := decodeSchemaIPC(b); err == nil {
				d.HeaderSchema = s
			}
		}
		if pd, ok := r["param_defaults_json"].(string); ok && pd != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(pd), &m); err == nil {
				d.ParamDefaults = m
			}
		}

		out = append(out, d)
	}
	return out, nil
}

func toStr(v any) string {
	s, _ := v.(string)
	return s
}
