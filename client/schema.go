// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sort"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/colrpc/colrpc"
)

// inferSchema builds an *arrow.Schema from a single Row's keys and sample
// values, sorted by name for determinism. A nil value has no type to sample
// from, so it defaults to string — the same rule the HTTP transport's
// continuation handshake uses when a caller's first row has a null field.
func inferSchema(row colrpc.Row) *arrow.Schema {
	if len(row) == 0 {
		return arrow.NewSchema(nil, nil)
	}

	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		v := row[name]
		fields[i] = arrow.Field{Name: name, Type: inferType(v), Nullable: v == nil}
	}
	return arrow.NewSchema(fields, nil)
}

// inferSchemaFromRows infers a schema from the first row of rows, or an
// empty schema if rows is empty.
func inferSchemaFromRows(rows []colrpc.Row) *arrow.Schema {
	if len(rows) == 0 {
		return arrow.NewSchema(nil, nil)
	}
	return inferSchema(rows[0])
}

func inferType(v any) arrow.DataType {
	switch val := v.(type) {
	case nil:
		return arrow.BinaryTypes.String
	case string:
		return arrow.BinaryTypes.String
	case []byte:
		return arrow.BinaryTypes.Binary
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return arrow.PrimitiveTypes.Int64
	case float32, float64:
		return arrow.PrimitiveTypes.Float64
	case []any:
		if len(val) == 0 {
			return arrow.ListOf(arrow.BinaryTypes.String)
		}
		return arrow.ListOf(inferType(val[0]))
	case map[string]any:
		return structTypeFor(val)
	default:
		return arrow.BinaryTypes.String
	}
}

// schemasCompatible reports whether two schemas declare the same fields in
// the same order. Exchange methods lock their input schema to the first
// round's shape; every later round's inferred schema is checked against it
// with this before anything is written to the wire.
func schemasCompatible(a, b *arrow.Schema) bool {
	if a.NumFields() != b.NumFields() {
		return false
	}
	for i := 0; i < a.NumFields(); i++ {
		if a.Field(i).Name != b.Field(i).Name {
			return false
		}
	}
	return true
}

func structTypeFor(row map[string]any) *arrow.StructType {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		v := row[name]
		fields[i] = arrow.Field{Name: name, Type: inferType(v), Nullable: v == nil}
	}
	return arrow.StructOf(fields...)
}
