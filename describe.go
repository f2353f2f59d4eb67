// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// describeSchema is the fixed ten-column schema of the __describe__
// introspection batch.
var describeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "method_type", Type: arrow.BinaryTypes.String},
	{Name: "doc", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "has_return", Type: &arrow.BooleanType{}},
	{Name: "params_schema_ipc", Type: arrow.BinaryTypes.Binary},
	{Name: "result_schema_ipc", Type: arrow.BinaryTypes.Binary},
	{Name: "param_types_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "param_defaults_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "has_header", Type: &arrow.BooleanType{}},
	{Name: "header_schema_ipc", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

func serializeSchema(schema *arrow.Schema) []byte {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	w.Close()
	return buf.Bytes()
}

// deserializeSchema is the inverse of serializeSchema, decoding a schema
// back out of an empty IPC stream.
func deserializeSchema(data []byte) (*arrow.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Release()
	return r.Schema(), nil
}

// schemasCompatible reports whether two schemas declare the same fields in
// the same order. Used to enforce exchange input-schema locking against the
// schema embedded in a continuation token.
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

// buildDescribeBatch builds the __describe__ response batch and its
// accompanying custom metadata, methods sorted lexicographically by name.
func (s *Server) buildDescribeBatch() (arrow.Record, arrow.Metadata) {
	mem := memory.NewGoAllocator()
	names := s.availableMethods()
	n := len(names)

	nameBuilder := array.NewStringBuilder(mem)
	defer nameBuilder.Release()
	methodTypeBuilder := array.NewStringBuilder(mem)
	defer methodTypeBuilder.Release()
	docBuilder := array.NewStringBuilder(mem)
	defer docBuilder.Release()
	hasReturnBuilder := array.NewBooleanBuilder(mem)
	defer hasReturnBuilder.Release()
	paramsSchemaBuilder := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer paramsSchemaBuilder.Release()
	resultSchemaBuilder := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer resultSchemaBuilder.Release()
	paramTypesBuilder := array.NewStringBuilder(mem)
	defer paramTypesBuilder.Release()
	paramDefaultsBuilder := array.NewStringBuilder(mem)
	defer paramDefaultsBuilder.Release()
	hasHeaderBuilder := array.NewBooleanBuilder(mem)
	defer hasHeaderBuilder.Release()
	headerSchemaBuilder := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer headerSchemaBuilder.Release()

	for _, name := range names {
		info := s.methods[name]

		nameBuilder.Append(name)
		methodTypeBuilder.Append(methodTypeString(info.Type))

		if info.Doc != "" {
			docBuilder.Append(info.Doc)
		} else {
			docBuilder.AppendNull()
		}

		hasReturnBuilder.Append(info.Type == MethodUnary && info.ResultSchema.NumFields() > 0)

		paramsSchemaBuilder.Append(serializeSchema(info.ParamsSchema))
		if info.OutputSchema != nil {
			resultSchemaBuilder.Append(serializeSchema(info.OutputSchema))
		} else {
			resultSchemaBuilder.Append(serializeSchema(info.ResultSchema))
		}

		if info.ParamsSchema.NumFields() > 0 {
			paramTypes := make(map[string]string, info.ParamsSchema.NumFields())
			for i := range info.ParamsSchema.NumFields() {
				f := info.ParamsSchema.Field(i)
				paramTypes[f.Name] = arrowTypeToString(f.Type)
			}
			ptJSON, err := json.Marshal(paramTypes)
			if err != nil {
				slog.Error("marshaling param types JSON", "method", name, "err", err)
				paramTypesBuilder.AppendNull()
			} else {
				paramTypesBuilder.Append(string(ptJSON))
			}
		} else {
			paramTypesBuilder.AppendNull()
		}

		if len(info.ParamDefaults) > 0 {
			typed := make(map[string]any, len(info.ParamDefaults))
			for k, v := range info.ParamDefaults {
				typed[k] = coerceDefaultValue(v, info.ParamsSchema, k)
			}
			pdJSON, err := json.Marshal(typed)
			if err != nil {
				slog.Error("marshaling param defaults JSON", "method", name, "err", err)
				paramDefaultsBuilder.AppendNull()
			} else {
				paramDefaultsBuilder.Append(string(pdJSON))
			}
		} else {
			paramDefaultsBuilder.AppendNull()
		}

		hasHeaderBuilder.Append(info.hasHeader())
		if info.hasHeader() {
			headerSchemaBuilder.Append(serializeSchema(info.HeaderSchema))
		} else {
			headerSchemaBuilder.AppendNull()
		}
	}

	cols := []arrow.Array{
		nameBuilder.NewArray(),
		methodTypeBuilder.NewArray(),
		docBuilder.NewArray(),
		hasReturnBuilder.NewArray(),
		paramsSchemaBuilder.NewArray(),
		resultSchemaBuilder.NewArray(),
		paramTypesBuilder.NewArray(),
		paramDefaultsBuilder.NewArray(),
		hasHeaderBuilder.NewArray(),
		headerSchemaBuilder.NewArray(),
	}
	for _, c := range cols {
		defer c.Release()
	}

	batch := array.NewRecordBatch(describeSchema, cols, int64(n))

	keys := []string{MetaProtocolName, MetaRequestVersion, MetaDescribeVersion}
	vals := []string{"colrpc", RequestVersion, DescribeVersion}
	if s.serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, s.serverID)
	}

	return batch, arrow.NewMetadata(keys, vals)
}

func coerceDefaultValue(val string, schema *arrow.Schema, fieldName string) any {
	indices := schema.FieldIndices(fieldName)
	if len(indices) == 0 {
		return val
	}
	f := schema.Field(indices[0])
	switch f.Type.ID() {
	case arrow.INT64, arrow.INT32:
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			return v
		}
	case arrow.FLOAT64, arrow.FLOAT32:
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			return v
		}
	case arrow.BOOL:
		if v, err := strconv.ParseBool(val); err == nil {
			return v
		}
	}
	return val
}

func arrowTypeToString(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.STRING:
		return "string"
	case arrow.INT64:
		return "int"
	case arrow.INT32:
		return "int32"
	case arrow.FLOAT64:
		return "float"
	case arrow.FLOAT32:
		return "float32"
	case arrow.BOOL:
		return "bool"
	case arrow.BINARY:
		return "bytes"
	case arrow.LIST:
		return "list[" + arrowTypeToString(dt.(*arrow.ListType).Elem()) + "]"
	case arrow.MAP:
		mt := dt.(*arrow.MapType)
		return "dict[" + arrowTypeToString(mt.KeyType()) + ", " + arrowTypeToString(mt.ItemType()) + "]"
	case arrow.DICTIONARY:
		return "enum"
	default:
		return dt.String()
	}
}
