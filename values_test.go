// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"math/big"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestRowsToBatchRoundTrip(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "ok", Type: &arrow.BooleanType{}},
		{Name: "tags", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	}, nil)

	rows := []Row{
		{"name": "alice", "count": int64(3), "score": 1.5, "ok": true, "tags": []any{"a", "b"}},
		{"name": nil, "count": int64(0), "score": 0.0, "ok": false, "tags": []any{}},
	}

	batch, err := RowsToBatch(nil, schema, rows)
	if err != nil {
		t.Fatalf("RowsToBatch: %v", err)
	}
	defer batch.Release()

	if batch.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", batch.NumRows())
	}

	out, err := BatchToRows(batch)
	if err != nil {
		t.Fatalf("BatchToRows: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 decoded rows, got %d", len(out))
	}
	if out[0]["name"] != "alice" || out[0]["count"] != int64(3) {
		t.Errorf("row 0 mismatch: %+v", out[0])
	}
	if out[1]["name"] != nil {
		t.Errorf("expected null name, got %v", out[1]["name"])
	}
	tags, ok := out[0]["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("tags round-trip mismatch: %+v", out[0]["tags"])
	}
}

func TestRowsToBatchMissingFieldBecomesNull(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	batch, err := RowsToBatch(nil, schema, []Row{{}})
	if err != nil {
		t.Fatalf("RowsToBatch: %v", err)
	}
	defer batch.Release()

	rows, err := BatchToRows(batch)
	if err != nil {
		t.Fatalf("BatchToRows: %v", err)
	}
	if rows[0]["value"] != nil {
		t.Errorf("expected null for missing field, got %v", rows[0]["value"])
	}
}

func TestStructAndMapRoundTrip(t *testing.T) {
	pointType := arrow.StructOf(
		arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "y", Type: arrow.PrimitiveTypes.Int64},
	)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "point", Type: pointType},
		{Name: "counts", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64)},
	}, nil)

	rows := []Row{
		{"point": Row{"x": int64(1), "y": int64(2)}, "counts": Row{"a": int64(1), "b": int64(2)}},
	}
	batch, err := RowsToBatch(nil, schema, rows)
	if err != nil {
		t.Fatalf("RowsToBatch: %v", err)
	}
	defer batch.Release()

	out, err := BatchToRows(batch)
	if err != nil {
		t.Fatalf("BatchToRows: %v", err)
	}
	point, ok := out[0]["point"].(Row)
	if !ok || point["x"] != int64(1) || point["y"] != int64(2) {
		t.Errorf("point round-trip mismatch: %+v", out[0]["point"])
	}
	counts, ok := out[0]["counts"].(Row)
	if !ok || counts["a"] != int64(1) || counts["b"] != int64(2) {
		t.Errorf("counts round-trip mismatch: %+v", out[0]["counts"])
	}
}

func TestToInt64AcceptsBigInt(t *testing.T) {
	big1 := big.NewInt(1 << 40)
	v, err := ToInt64(big1)
	if err != nil {
		t.Fatalf("ToInt64(*big.Int): %v", err)
	}
	if v != 1<<40 {
		t.Errorf("got %d, want %d", v, int64(1)<<40)
	}

	v2, err := ToInt64(*big1)
	if err != nil {
		t.Fatalf("ToInt64(big.Int): %v", err)
	}
	if v2 != v {
		t.Errorf("big.Int value form mismatch: %d != %d", v2, v)
	}

	overflow := new(big.Int).Lsh(big.NewInt(1), 100)
	if _, err := ToInt64(overflow); err == nil {
		t.Error("expected overflow error for a value exceeding int64 range")
	}
}

func TestToFloat64AcceptsBigInt(t *testing.T) {
	f, err := ToFloat64(big.NewInt(42))
	if err != nil {
		t.Fatalf("ToFloat64(*big.Int): %v", err)
	}
	if f != 42.0 {
		t.Errorf("got %v, want 42.0", f)
	}
}
