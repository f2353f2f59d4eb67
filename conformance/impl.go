// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/colrpc/colrpc"
)

func field(name string, t arrow.DataType) arrow.Field { return arrow.Field{Name: name, Type: t} }

func schemaOf(fields ...arrow.Field) *arrow.Schema { return arrow.NewSchema(fields, nil) }

var (
	stringField  = field("value", arrow.BinaryTypes.String)
	bytesField   = field("data", arrow.BinaryTypes.Binary)
	intField     = field("value", arrow.PrimitiveTypes.Int64)
	floatField   = field("value", arrow.PrimitiveTypes.Float64)
	boolField    = field("value", &arrow.BooleanType{})
	resultString = schemaOf(field("result", arrow.BinaryTypes.String))
	resultBytes  = schemaOf(field("result", arrow.BinaryTypes.Binary))
	resultInt    = schemaOf(field("result", arrow.PrimitiveTypes.Int64))
	resultFloat  = schemaOf(field("result", arrow.PrimitiveTypes.Float64))
	resultBool   = schemaOf(field("result", &arrow.BooleanType{}))
	emptySchema  = schemaOf()
)

// RegisterMethods registers the full conformance protocol on server,
// covering every method kind, error path, and type the dispatcher
// supports, exercised from either transport.
func RegisterMethods(server *colrpc.Server) {
	// Scalar echo methods.
	server.RegisterUnary("echo_string", schemaOf(stringField), resultString, "echoes a string", nil, echoScalar("value", "result"))
	server.RegisterUnary("echo_bytes", schemaOf(bytesField), resultBytes, "echoes bytes", nil, echoScalar("data", "result"))
	server.RegisterUnary("echo_int", schemaOf(intField), resultInt, "echoes an int", nil, echoScalar("value", "result"))
	server.RegisterUnary("echo_float", schemaOf(floatField), resultFloat, "echoes a float", nil, echoScalar("value", "result"))
	server.RegisterUnary("echo_bool", schemaOf(boolField), resultBool, "echoes a bool", nil, echoScalar("value", "result"))

	// Void returns.
	server.RegisterUnary("void_noop", emptySchema, emptySchema, "does nothing", nil, voidHandler)
	server.RegisterUnary("void_with_param", schemaOf(intField), emptySchema, "accepts a param, returns nothing", nil, voidHandler)

	// Complex type echo.
	server.RegisterUnary("echo_enum", schemaOf(field("status", statusDictType)), schemaOf(field("result", statusDictType)), "echoes an enum", nil, echoScalar("status", "result"))
	server.RegisterUnary("echo_list", schemaOf(field("values", arrow.ListOf(arrow.BinaryTypes.String))), schemaOf(field("result", arrow.ListOf(arrow.BinaryTypes.String))), "echoes a list", nil, echoScalar("values", "result"))
	server.RegisterUnary("echo_dict", schemaOf(field("mapping", arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64))), schemaOf(field("result", arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64))), "echoes a dict", nil, echoScalar("mapping", "result"))
	server.RegisterUnary("echo_nested_list", schemaOf(field("matrix", arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Int64)))), schemaOf(field("result", arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Int64)))), "echoes a nested list", nil, echoScalar("matrix", "result"))

	// Optional/nullable.
	server.RegisterUnary("echo_optional_string", schemaOf(fieldWith("value", arrow.BinaryTypes.String, withNullable)), schemaOf(fieldWith("result", arrow.BinaryTypes.String, withNullable)), "echoes a nullable string", nil, echoScalar("value", "result"))
	server.RegisterUnary("echo_optional_int", schemaOf(fieldWith("value", arrow.PrimitiveTypes.Int64, withNullable)), schemaOf(fieldWith("result", arrow.PrimitiveTypes.Int64, withNullable)), "echoes a nullable int", nil, echoScalar("value", "result"))

	// Struct round-trip.
	server.RegisterUnary("echo_point", pointSchema, pointSchema, "echoes a point", nil, echoAll)
	server.RegisterUnary("echo_all_types", allTypesSchema, allTypesSchema, "echoes a value exercising every column kind", nil, echoAll)
	server.RegisterUnary("echo_bounding_box", boundingBoxSchema, boundingBoxSchema, "echoes a bounding box", nil, echoAll)

	// Struct as parameter, scalar result.
	server.RegisterUnary("inspect_point", pointSchema, resultString, "describes a point as text", nil, inspectPoint)

	// Annotated types.
	server.RegisterUnary("echo_int32", schemaOf(field("value", arrow.PrimitiveTypes.Int32)), schemaOf(field("result", arrow.PrimitiveTypes.Int32)), "echoes an int32", nil, echoScalar("value", "result"))
	server.RegisterUnary("echo_float32", schemaOf(field("value", arrow.PrimitiveTypes.Float32)), schemaOf(field("result", arrow.PrimitiveTypes.Float32)), "echoes a float32", nil, echoScalar("value", "result"))

	// Multi-param & defaults.
	server.RegisterUnary("add_floats", schemaOf(field("a", arrow.PrimitiveTypes.Float64), field("b", arrow.PrimitiveTypes.Float64)), resultFloat, "adds two floats", nil, addFloats)
	server.RegisterUnary("concatenate", schemaOf(field("prefix", arrow.BinaryTypes.String), field("suffix", arrow.BinaryTypes.String), field("separator", arrow.BinaryTypes.String)), resultString, "concatenates prefix, separator, suffix", map[string]string{"separator": "-"}, concatenate)
	server.RegisterUnary("with_defaults", schemaOf(field("required", arrow.PrimitiveTypes.Int64), field("optional_str", arrow.BinaryTypes.String), field("optional_int", arrow.PrimitiveTypes.Int64)), resultString, "demonstrates default parameter values", map[string]string{"optional_str": "default", "optional_int": "42"}, withDefaults)

	// Error propagation.
	server.RegisterUnary("raise_value_error", schemaOf(field("message", arrow.BinaryTypes.String)), resultString, "always fails with ValueError", nil, raiseError("ValueError"))
	server.RegisterUnary("raise_runtime_error", schemaOf(field("message", arrow.BinaryTypes.String)), resultString, "always fails with RuntimeError", nil, raiseError("RuntimeError"))
	server.RegisterUnary("raise_type_error", schemaOf(field("message", arrow.BinaryTypes.String)), resultString, "always fails with TypeError", nil, raiseError("TypeError"))

	// Client-directed logging.
	server.RegisterUnary("echo_with_info_log", schemaOf(stringField), resultString, "echoes and emits an info log", nil, echoWithInfoLog)
	server.RegisterUnary("echo_with_multi_logs", schemaOf(stringField), resultString, "echoes and emits logs at several levels", nil, echoWithMultiLogs)
	server.RegisterUnary("echo_with_log_extras", schemaOf(stringField), resultString, "echoes and emits a log with structured extras", nil, echoWithLogExtras)

	// Producer streams.
	server.RegisterProducer("produce_n", schemaOf(field("count", arrow.PrimitiveTypes.Int64)), counterSchema, "produces count rows", nil, produceN, decodeCounterProducerState)
	server.RegisterProducer("produce_empty", emptySchema, counterSchema, "finishes immediately with zero rows", nil, produceEmpty, decodeEmptyProducerState)
	server.RegisterProducer("produce_single", emptySchema, counterSchema, "produces exactly one row", nil, produceSingle, decodeSingleProducerState)
	server.RegisterProducer("produce_large_batches", schemaOf(field("rows_per_batch", arrow.PrimitiveTypes.Int64), field("batch_count", arrow.PrimitiveTypes.Int64)), counterSchema, "produces batch_count batches of rows_per_batch rows", nil, produceLargeBatches, decodeLargeProducerState)
	server.RegisterProducer("produce_with_logs", schemaOf(field("count", arrow.PrimitiveTypes.Int64)), counterSchema, "produces rows, logging before each", nil, produceWithLogs, decodeLoggingProducerState)
	server.RegisterProducer("produce_error_mid_stream", schemaOf(field("emit_before_error", arrow.PrimitiveTypes.Int64)), counterSchema, "fails after emitting emit_before_error rows", nil, produceErrorMidStream, decodeErrorAfterNState)
	server.RegisterProducer("produce_error_on_init", emptySchema, counterSchema, "always fails during init", nil, produceErrorOnInit, nil)

	// Producer streams with headers.
	server.RegisterProducerWithHeader("produce_with_header", schemaOf(field("count", arrow.PrimitiveTypes.Int64)), counterSchema, headerSchema, "produces rows preceded by a header", nil, produceWithHeader, decodeHeaderProducerState)
	server.RegisterProducerWithHeader("produce_with_header_and_logs", schemaOf(field("count", arrow.PrimitiveTypes.Int64)), counterSchema, headerSchema, "produces rows preceded by a header, logging on init", nil, produceWithHeaderAndLogs, decodeHeaderProducerState)

	// Exchange streams.
	server.RegisterExchange("exchange_scale", schemaOf(field("factor", arrow.PrimitiveTypes.Float64)), scaleOutputSchema, scaleInputSchema, "multiplies each input value by factor", nil, exchangeScale, decodeScaleExchangeState)
	server.RegisterExchange("exchange_accumulate", emptySchema, accumOutputSchema, accumInputSchema, "accumulates a running sum across rounds", nil, exchangeAccumulate, decodeAccumulatingExchangeState)
	server.RegisterExchange("exchange_with_logs", emptySchema, scaleOutputSchema, scaleInputSchema, "echoes input, logging on each round", nil, exchangeWithLogs, decodeLoggingExchangeState)
	server.RegisterExchange("exchange_error_on_nth", schemaOf(field("fail_on", arrow.PrimitiveTypes.Int64)), scaleOutputSchema, scaleInputSchema, "fails on the Nth exchange round", nil, exchangeErrorOnNth, decodeFailOnExchangeNState)
	server.RegisterExchange("exchange_error_on_init", emptySchema, scaleOutputSchema, scaleInputSchema, "always fails during init", nil, exchangeErrorOnInit, nil)

	// Exchange streams with headers.
	server.RegisterExchangeWithHeader("exchange_with_header", schemaOf(field("factor", arrow.PrimitiveTypes.Float64)), scaleOutputSchema, scaleInputSchema, headerSchema, "scales input, preceded by a header", nil, exchangeWithHeader, decodeScaleExchangeState)
}

func withNullable(f *arrow.Field) { f.Nullable = true }

// fieldWith supports an optional mutator (used only for withNullable above).
func fieldWith(name string, t arrow.DataType, opts ...func(*arrow.Field)) arrow.Field {
	f := arrow.Field{Name: name, Type: t}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// --- Scalar echo ---

func echoScalar(in, out string) colrpc.UnaryHandler {
	return func(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
		return colrpc.Row{out: p[in]}, nil
	}
}

func echoAll(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	return p, nil
}

func voidHandler(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (colrpc.Row, error) {
	return colrpc.Row{}, nil
}

func inspectPoint(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	x, _ := colrpc.ToFloat64(p["x"])
	y, _ := colrpc.ToFloat64(p["y"])
	return colrpc.Row{"result": fmt.Sprintf("Point(%g, %g)", x, y)}, nil
}

func addFloats(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
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

func concatenate(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	prefix, _ := p["prefix"].(string)
	suffix, _ := p["suffix"].(string)
	separator, _ := p["separator"].(string)
	return colrpc.Row{"result": prefix + separator + suffix}, nil
}

func withDefaults(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	required, err := colrpc.ToInt64(p["required"])
	if err != nil {
		return nil, err
	}
	optionalStr, _ := p["optional_str"].(string)
	optionalInt, _ := colrpc.ToInt64(p["optional_int"])
	return colrpc.Row{"result": fmt.Sprintf("required=%d, optional_str=%s, optional_int=%d", required, optionalStr, optionalInt)}, nil
}

func raiseError(kind string) colrpc.UnaryHandler {
	return func(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
		message, _ := p["message"].(string)
		return nil, &colrpc.RpcError{Type: kind, Message: message}
	}
}

// --- Client-directed logging ---

func echoWithInfoLog(_ context.Context, call *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	value, _ := p["value"].(string)
	call.ClientLog(colrpc.LogInfo, fmt.Sprintf("info: %s", value))
	return colrpc.Row{"result": value}, nil
}

func echoWithMultiLogs(_ context.Context, call *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	value, _ := p["value"].(string)
	call.ClientLog(colrpc.LogDebug, fmt.Sprintf("debug: %s", value))
	call.ClientLog(colrpc.LogInfo, fmt.Sprintf("info: %s", value))
	call.ClientLog(colrpc.LogWarn, fmt.Sprintf("warn: %s", value))
	return colrpc.Row{"result": value}, nil
}

func echoWithLogExtras(_ context.Context, call *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
	value, _ := p["value"].(string)
	call.ClientLog(colrpc.LogInfo, "echo_with_extras",
		colrpc.KV{Key: "source", Value: "conformance"},
		colrpc.KV{Key: "detail", Value: value},
	)
	return colrpc.Row{"result": value}, nil
}

// --- Producer init handlers ---

func produceN(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	count, err := colrpc.ToInt64(p["count"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: counterSchema, State: &CounterProducerState{Count: int(count)}}, nil
}

func produceEmpty(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (*colrpc.StreamResult, error) {
	return &colrpc.StreamResult{OutputSchema: counterSchema, State: &EmptyProducerState{}}, nil
}

func produceSingle(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (*colrpc.StreamResult, error) {
	return &colrpc.StreamResult{OutputSchema: counterSchema, State: &SingleProducerState{}}, nil
}

func produceLargeBatches(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	rowsPerBatch, err := colrpc.ToInt64(p["rows_per_batch"])
	if err != nil {
		return nil, err
	}
	batchCount, err := colrpc.ToInt64(p["batch_count"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: counterSchema, State: &LargeProducerState{RowsPerBatch: int(rowsPerBatch), BatchCount: int(batchCount)}}, nil
}

func produceWithLogs(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	count, err := colrpc.ToInt64(p["count"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: counterSchema, State: &LoggingProducerState{Count: int(count)}}, nil
}

func produceErrorMidStream(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	emitBeforeError, err := colrpc.ToInt64(p["emit_before_error"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: counterSchema, State: &ErrorAfterNState{EmitBeforeError: int(emitBeforeError)}}, nil
}

func produceErrorOnInit(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (*colrpc.StreamResult, error) {
	return nil, &colrpc.RpcError{Type: "RuntimeError", Message: "intentional init error"}
}

func produceWithHeader(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	count, err := colrpc.ToInt64(p["count"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{
		OutputSchema: counterSchema,
		State:        &HeaderProducerState{Count: int(count)},
		HeaderRow:    colrpc.Row{"total_expected": count, "description": fmt.Sprintf("producing %d batches", count)},
	}, nil
}

func produceWithHeaderAndLogs(_ context.Context, call *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	count, err := colrpc.ToInt64(p["count"])
	if err != nil {
		return nil, err
	}
	call.ClientLog(colrpc.LogInfo, "stream init log")
	return &colrpc.StreamResult{
		OutputSchema: counterSchema,
		State:        &HeaderProducerState{Count: int(count)},
		HeaderRow:    colrpc.Row{"total_expected": count, "description": fmt.Sprintf("producing %d with logs", count)},
	}, nil
}

// --- Exchange init handlers ---

func exchangeScale(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	factor, err := colrpc.ToFloat64(p["factor"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: scaleOutputSchema, State: &ScaleExchangeState{Factor: factor}}, nil
}

func exchangeAccumulate(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (*colrpc.StreamResult, error) {
	return &colrpc.StreamResult{OutputSchema: accumOutputSchema, State: &AccumulatingExchangeState{}}, nil
}

func exchangeWithLogs(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (*colrpc.StreamResult, error) {
	return &colrpc.StreamResult{OutputSchema: scaleOutputSchema, State: &LoggingExchangeState{}}, nil
}

func exchangeErrorOnNth(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	failOn, err := colrpc.ToInt64(p["fail_on"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{OutputSchema: scaleOutputSchema, State: &FailOnExchangeNState{FailOn: int(failOn)}}, nil
}

func exchangeErrorOnInit(_ context.Context, _ *colrpc.CallContext, _ colrpc.Row) (*colrpc.StreamResult, error) {
	return nil, &colrpc.RpcError{Type: "RuntimeError", Message: "intentional exchange init error"}
}

func exchangeWithHeader(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
	factor, err := colrpc.ToFloat64(p["factor"])
	if err != nil {
		return nil, err
	}
	return &colrpc.StreamResult{
		OutputSchema: scaleOutputSchema,
		State:        &ScaleExchangeState{Factor: factor},
		HeaderRow:    colrpc.Row{"total_expected": int64(0), "description": "scale by " + formatFloat(factor)},
	}, nil
}

// formatFloat formats a float64 with at least one decimal place, matching
// the cross-language conformance suite's str(float) expectations.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	for _, c := range s {
		if c == '.' {
			return s
		}
	}
	return s + ".0"
}
