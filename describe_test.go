// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestBuildDescribeBatchSortedAndTyped(t *testing.T) {
	s := NewServer()
	s.RegisterUnary("zeta", arrow.NewSchema([]arrow.Field{
		{Name: "n", Type: arrow.PrimitiveTypes.Int64},
	}, nil), arrow.NewSchema([]arrow.Field{
		{Name: "result", Type: arrow.BinaryTypes.String},
	}, nil), "does zeta things", map[string]string{"n": "1"}, func(_ context.Context, _ *CallContext, _ Row) (Row, error) {
		return Row{"result": "ok"}, nil
	})
	s.RegisterUnary("alpha", nil, nil, "", nil, func(_ context.Context, _ *CallContext, _ Row) (Row, error) {
		return Row{}, nil
	})
	s.RegisterProducer("stream_it", nil, arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64},
	}, nil), "", nil, nil, nil)

	batch, meta := s.buildDescribeBatch()
	defer batch.Release()

	if batch.NumRows() != 3 {
		t.Fatalf("expected 3 methods, got %d", batch.NumRows())
	}

	rows, err := BatchToRows(batch)
	if err != nil {
		t.Fatalf("BatchToRows: %v", err)
	}
	names := []string{rows[0]["name"].(string), rows[1]["name"].(string), rows[2]["name"].(string)}
	want := []string{"alpha", "stream_it", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names not sorted: got %v, want %v", names, want)
		}
	}

	if proto, _ := meta.GetValue(MetaProtocolName); proto != "colrpc" {
		t.Errorf("MetaProtocolName = %q, want %q", proto, "colrpc")
	}

	for _, r := range rows {
		if r["name"] == "zeta" {
			if r["method_type"] != "unary" {
				t.Errorf("zeta method_type = %v, want unary", r["method_type"])
			}
			if r["has_return"] != true {
				t.Error("zeta has_return = false, want true")
			}
		}
		if r["name"] == "stream_it" {
			if r["method_type"] != "stream" {
				t.Errorf("stream_it method_type = %v, want stream", r["method_type"])
			}
		}
	}
}

func TestArrowTypeToString(t *testing.T) {
	cases := []struct {
		dt   arrow.DataType
		want string
	}{
		{arrow.BinaryTypes.String, "string"},
		{arrow.PrimitiveTypes.Int64, "int"},
		{arrow.PrimitiveTypes.Int32, "int32"},
		{arrow.PrimitiveTypes.Float64, "float"},
		{&arrow.BooleanType{}, "bool"},
		{arrow.BinaryTypes.Binary, "bytes"},
		{arrow.ListOf(arrow.BinaryTypes.String), "list[string]"},
		{arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64), "dict[string, int]"},
		{&arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int16, ValueType: arrow.BinaryTypes.String}, "enum"},
	}
	for _, c := range cases {
		if got := arrowTypeToString(c.dt); got != c.want {
			t.Errorf("arrowTypeToString(%v) = %q, want %q", c.dt, got, c.want)
		}
	}
}

func TestCoerceDefaultValue(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "n", Type: arrow.PrimitiveTypes.Int64},
		{Name: "f", Type: arrow.PrimitiveTypes.Float64},
		{Name: "b", Type: &arrow.BooleanType{}},
		{Name: "s", Type: arrow.BinaryTypes.String},
	}, nil)

	if v := coerceDefaultValue("42", schema, "n"); v != int64(42) {
		t.Errorf("int default = %v (%T), want int64(42)", v, v)
	}
	if v := coerceDefaultValue("1.5", schema, "f"); v != 1.5 {
		t.Errorf("float default = %v, want 1.5", v)
	}
	if v := coerceDefaultValue("true", schema, "b"); v != true {
		t.Errorf("bool default = %v, want true", v)
	}
	if v := coerceDefaultValue("hello", schema, "s"); v != "hello" {
		t.Errorf("string default = %v, want hello", v)
	}
}
