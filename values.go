// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Row is a single record, addressed by schema field name rather than by a
// reflected Go struct. Handlers read parameters from a Row and return
// results as one or more Rows; the registry carries the arrow.Schema on
// the side.
type Row = map[string]any

// RowsToBatch builds a RecordBatch with the given schema from a slice of
// Rows, one row per element. A field missing from a Row, or explicitly nil,
// is written as null.
func RowsToBatch(mem memory.Allocator, schema *arrow.Schema, rows []Row) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	n := len(rows)
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		values := make([]any, n)
		for r, row := range rows {
			values[r] = row[f.Name]
		}
		arr, err := buildColumn(mem, f.Type, values)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		cols[i] = arr
	}
	batch := array.NewRecordBatch(schema, cols, int64(n))
	for _, c := range cols {
		c.Release()
	}
	return batch, nil
}

// BatchToRows decodes every row of a RecordBatch into a Row map keyed by
// field name.
func BatchToRows(batch arrow.Record) ([]Row, error) {
	n := int(batch.NumRows())
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = make(Row, batch.NumCols())
	}
	for ci := range int(batch.NumCols()) {
		name := batch.ColumnName(ci)
		col := batch.Column(ci)
		for ri := 0; ri < n; ri++ {
			v, err := extractValue(col, ri)
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", name, ri, err)
			}
			rows[ri][name] = v
		}
	}
	return rows, nil
}

// buildColumn creates an n-element Arrow array, one entry per value. A nil
// entry becomes a null value in the output column.
func buildColumn(mem memory.Allocator, dt arrow.DataType, values []any) (arrow.Array, error) {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	for _, v := range values {
		if err := appendValue(b, dt, v); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

// appendValue appends a single Go value onto an Arrow builder, dispatching
// on the builder's logical Arrow type.
func appendValue(b array.Builder, dt arrow.DataType, value any) error {
	if value == nil {
		b.AppendNull()
		return nil
	}

	switch dt.ID() {
	case arrow.STRING:
		s, err := toString(value)
		if err != nil {
			return err
		}
		b.(*array.StringBuilder).Append(s)

	case arrow.INT64:
		v, err := toInt64(value)
		if err != nil {
			return err
		}
		b.(*array.Int64Builder).Append(v)

	case arrow.INT32:
		v, err := toInt64(value)
		if err != nil {
			return err
		}
		b.(*array.Int32Builder).Append(int32(v))

	case arrow.FLOAT64:
		v, err := toFloat64(value)
		if err != nil {
			return err
		}
		b.(*array.Float64Builder).Append(v)

	case arrow.FLOAT32:
		v, err := toFloat64(value)
		if err != nil {
			return err
		}
		b.(*array.Float32Builder).Append(float32(v))

	case arrow.BOOL:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		b.(*array.BooleanBuilder).Append(v)

	case arrow.BINARY:
		v, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("expected []byte, got %T", value)
		}
		b.(*array.BinaryBuilder).Append(v)

	case arrow.LIST:
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder()
		elems, err := toSlice(value)
		if err != nil {
			return err
		}
		for _, e := range elems {
			if err := appendValue(vb, dt.(*arrow.ListType).Elem(), e); err != nil {
				return err
			}
		}

	case arrow.MAP:
		mb := b.(*array.MapBuilder)
		mb.Append(true)
		kb := mb.KeyBuilder()
		ib := mb.ItemBuilder()
		mt := dt.(*arrow.MapType)
		m, err := toRowMap(value)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := appendValue(kb, mt.KeyType(), k); err != nil {
				return err
			}
			if err := appendValue(ib, mt.ItemType(), m[k]); err != nil {
				return err
			}
		}

	case arrow.DICTIONARY:
		s, err := toString(value)
		if err != nil {
			return err
		}
		b.(*array.BinaryDictionaryBuilder).AppendString(s)

	case arrow.STRUCT:
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		st := dt.(*arrow.StructType)
		m, err := toRowMap(value)
		if err != nil {
			return err
		}
		for i := range st.NumFields() {
			f := st.Field(i)
			if err := appendValue(sb.FieldBuilder(i), f.Type, m[f.Name]); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}

	default:
		return fmt.Errorf("unsupported Arrow type: %v", dt)
	}
	return nil
}

// extractValue reads the value of column col at row idx into a plain Go
// value suitable for a Row map.
func extractValue(col arrow.Array, idx int) (any, error) {
	if col.IsNull(idx) {
		return nil, nil
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(idx), nil
	case *array.Int64:
		return c.Value(idx), nil
	case *array.Int32:
		return int64(c.Value(idx)), nil
	case *array.Float64:
		return c.Value(idx), nil
	case *array.Float32:
		return float64(c.Value(idx)), nil
	case *array.Boolean:
		return c.Value(idx), nil
	case *array.Binary:
		return c.Value(idx), nil
	case *array.Dictionary:
		dict := c.Dictionary().(*array.String)
		return dict.Value(c.GetValueIndex(idx)), nil
	case *array.List:
		start, end := c.ValueOffsets(idx)
		values := c.ListValues()
		out := make([]any, 0, end-start)
		for i := start; i < end; i++ {
			v, err := extractValue(values, int(i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *array.Map:
		start, end := c.ValueOffsets(idx)
		keys := c.Keys()
		items := c.Items()
		out := make(Row, end-start)
		for i := start; i < end; i++ {
			k, err := extractValue(keys, int(i))
			if err != nil {
				return nil, err
			}
			v, err := extractValue(items, int(i))
			if err != nil {
				return nil, err
			}
			ks, _ := k.(string)
			out[ks] = v
		}
		return out, nil
	case *array.Struct:
		st := c.DataType().(*arrow.StructType)
		out := make(Row, st.NumFields())
		for i := range st.NumFields() {
			v, err := extractValue(c.Field(i), idx)
			if err != nil {
				return nil, err
			}
			out[st.Field(i).Name] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported Arrow array type: %T", col)
	}
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []Row:
		out := make([]any, len(s))
		for i, r := range s {
			out[i] = r
		}
		return out, nil
	case []string:
		out := make([]any, len(s))
		for i, r := range s {
			out[i] = r
		}
		return out, nil
	case []int64:
		out := make([]any, len(s))
		for i, r := range s {
			out[i] = r
		}
		return out, nil
	case []float64:
		out := make([]any, len(s))
		for i, r := range s {
			out[i] = r
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a slice value, got %T", v)
	}
}

func toRowMap(v any) (Row, error) {
	switch m := v.(type) {
	case Row:
		return m, nil
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("expected a map value, got %T", v)
	}
}

// toInt64 converts a Go scalar, including a *big.Int, to int64. big.Int
// inputs are accepted so that callers preserving full 64-bit precision
// through a big-integer-aware JSON codec can pass values straight through
// without an intermediate float64 round trip.
func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case *big.Int:
		if !val.IsInt64() {
			return 0, fmt.Errorf("big.Int %s overflows int64", val.String())
		}
		return val.Int64(), nil
	case big.Int:
		return toInt64(&val)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

// ToInt64 is the exported form of toInt64, for embedders that need the
// same big-integer-aware coercion the wire codec applies to INT64/INT32
// fields.
func ToInt64(v any) (int64, error) { return toInt64(v) }

// ToFloat64 is the exported form of toFloat64.
func ToFloat64(v any) (float64, error) { return toFloat64(v) }

func toFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case *big.Int:
		f := new(big.Float).SetInt(val)
		out, _ := f.Float64()
		return out, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
