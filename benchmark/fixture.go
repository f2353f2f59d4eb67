// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/colrpc/colrpc"
)

var (
	noopSchema = arrow.NewSchema(nil, nil)

	addSchema = arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Float64},
		{Name: "b", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	addResultSchema = arrow.NewSchema([]arrow.Field{
		{Name: "result", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	greetSchema = arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	greetResultSchema = arrow.NewSchema([]arrow.Field{
		{Name: "result", Type: arrow.BinaryTypes.String},
	}, nil)

	roundtripColorType = &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int16, ValueType: arrow.BinaryTypes.String}
	roundtripSchema    = arrow.NewSchema([]arrow.Field{
		{Name: "color", Type: roundtripColorType},
		{Name: "mapping", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64)},
		{Name: "tags", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	}, nil)
	roundtripResultSchema = arrow.NewSchema([]arrow.Field{
		{Name: "result", Type: arrow.BinaryTypes.String},
	}, nil)

	generateParamsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	generateOutputSchema = arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64},
		{Name: "value", Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	transformParamsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "factor", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	transformSchema = arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
)

// RegisterMethods registers the throughput benchmark fixture methods used
// to measure per-call dispatch overhead and streaming throughput across
// both transports.
func RegisterMethods(server *colrpc.Server) {
	server.RegisterUnary("noop", noopSchema, noopSchema, "does nothing; measures bare dispatch overhead", nil, noop)
	server.RegisterUnary("add", addSchema, addResultSchema, "adds two floats", nil, add)
	server.RegisterUnary("greet", greetSchema, greetResultSchema, "formats a greeting", nil, greet)
	server.RegisterUnary("roundtrip_types", roundtripSchema, roundtripResultSchema, "round-trips an enum, a map, and a list through the wire codec", nil, roundtripTypes)
	server.RegisterProducer("generate", generateParamsSchema, generateOutputSchema, "emits count rows, one per tick; measures producer throughput", nil, generate, decodeGenerateState)
	server.RegisterExchange("transform", transformParamsSchema, transformSchema, transformSchema, "scales each input batch by factor; measures exchange throughput", nil, transform, decodeTransformState)
}

func noop(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (colrpc.Row, error) {
	return colrpc.Row{}, nil
}

func add(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	a, err := colrpc.ToFloat64(p["a"])
	if err != nil {
		return nil, err
	}
	b, err := colrpc.ToFloat64(p["b"])
	if err != nil {
		return nil, err
	}
	return colrpc.Row{"result": a + b}, nil
}

func greet(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	name, _ := p["name"].(string)
	return colrpc.Row{"result": "Hello, " + name + "!"}, nil
}

func roundtripTypes(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	color, _ := p["color"].(string)
	mapping, _ := p["mapping"].(colrpc.Row)
	tags, _ := p["tags"].([]any)

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mappingParts []string
	for _, k := range keys {
		v, _ := colrpc.ToInt64(mapping[k])
		mappingParts = append(mappingParts, fmt.Sprintf("'%s': %d", k, v))
	}
	mappingStr := "{" + strings.Join(mappingParts, ", ") + "}"

	sortedTags := make([]int64, len(tags))
	for i, t := range tags {
		v, _ := colrpc.ToInt64(t)
		sortedTags[i] = v
	}
	sort.Slice(sortedTags, func(i, j int) bool { return sortedTags[i] < sortedTags[j] })

	var tagParts []string
	for _, t := range sortedTags {
		tagParts = append(tagParts, fmt.Sprintf("%d", t))
	}
	tagsStr := "[" + strings.Join(tagParts, ", ") + "]"

	return colrpc.Row{"result": fmt.Sprintf("%s:true:%s:%s", color, mappingStr, tagsStr)}, nil
}

func generate(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	count, err := colrpc.ToInt64(p["count"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: generateOutputSchema, State: &GenerateState{Count: int(count)}}, nil
}

func transform(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	factor, err := colrpc.ToFloat64(p["factor"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: transformSchema, State: &TransformState{Factor: factor}}, nil
}
