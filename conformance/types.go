// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// pointStructType describes a simple {x, y} struct field, reused by several
// of the type-coverage methods below.
var pointStructType = arrow.StructOf(
	arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "y", Type: arrow.PrimitiveTypes.Float64},
)

var pointSchema = arrow.NewSchema([]arrow.Field{
	{Name: "x", Type: arrow.PrimitiveTypes.Float64},
	{Name: "y", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var boundingBoxSchema = arrow.NewSchema([]arrow.Field{
	{Name: "top_left", Type: pointStructType},
	{Name: "bottom_right", Type: pointStructType},
	{Name: "label", Type: arrow.BinaryTypes.String},
}, nil)

var statusDictType = &arrow.DictionaryType{
	IndexType: arrow.PrimitiveTypes.Int16,
	ValueType: arrow.BinaryTypes.String,
}

// allTypesSchema exercises every column kind the wire codec supports: a
// scalar of each primitive kind, a list, a map, a dictionary-encoded
// enum, a nested struct, and nullable string, integer and struct fields.
var allTypesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "str_field", Type: arrow.BinaryTypes.String},
	{Name: "bytes_field", Type: arrow.BinaryTypes.Binary},
	{Name: "int_field", Type: arrow.PrimitiveTypes.Int64},
	{Name: "float_field", Type: arrow.PrimitiveTypes.Float64},
	{Name: "bool_field", Type: &arrow.BooleanType{}},
	{Name: "list_of_int", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "list_of_str", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	{Name: "dict_field", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64)},
	{Name: "enum_field", Type: statusDictType},
	{Name: "nested_point", Type: pointStructType},
	{Name: "optional_str", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "optional_int", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "optional_nested", Type: pointStructType, Nullable: true},
	{Name: "list_of_nested", Type: arrow.ListOf(pointStructType)},
	{Name: "annotated_int32", Type: arrow.PrimitiveTypes.Int32},
	{Name: "annotated_float32", Type: arrow.PrimitiveTypes.Float32},
	{Name: "nested_list", Type: arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Int64))},
	{Name: "dict_str_str", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.BinaryTypes.String)},
}, nil)

// headerSchema is the header row type used by the produce-with-header and
// exchange-with-header conformance methods.
var headerSchema = arrow.NewSchema([]arrow.Field{
	{Name: "total_expected", Type: arrow.PrimitiveTypes.Int64},
	{Name: "description", Type: arrow.BinaryTypes.String},
}, nil)

// counterSchema is the output schema shared by every producer stream
// method below.
var counterSchema = arrow.NewSchema([]arrow.Field{
	{Name: "index", Type: arrow.PrimitiveTypes.Int64},
	{Name: "value", Type: arrow.PrimitiveTypes.Int64},
}, nil)

var scaleInputSchema = arrow.NewSchema([]arrow.Field{
	{Name: "value", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var scaleOutputSchema = arrow.NewSchema([]arrow.Field{
	{Name: "value", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var accumInputSchema = arrow.NewSchema([]arrow.Field{
	{Name: "value", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var accumOutputSchema = arrow.NewSchema([]arrow.Field{
	{Name: "running_sum", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exchange_count", Type: arrow.PrimitiveTypes.Int64},
}, nil)
