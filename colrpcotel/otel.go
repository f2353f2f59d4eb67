// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

// Package colrpcotel provides OpenTelemetry instrumentation for colrpc
// servers. It implements [colrpc.DispatchHook] to add distributed tracing
// and metrics to RPC dispatch.
//
// Usage:
//
//	server := colrpc.NewServer()
//	// ... register methods ...
//	colrpcotel.InstrumentServer(server, colrpcotel.DefaultConfig())
package colrpcotel

import (
	"context"
	"fmt"
	"time"

	"github.com/colrpc/colrpc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "colrpc"

// Config configures OpenTelemetry instrumentation for a colrpc server.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed dispatches.
	// Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to
	// Server.ServiceName() or "colrpc-server".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with sensible defaults. TracerProvider
// and MeterProvider are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentServer attaches OpenTelemetry instrumentation to a colrpc
// server. The hook is installed via [colrpc.Server.SetDispatchHook].
func InstrumentServer(server *colrpc.Server, cfg Config) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		if sn := server.ServiceName(); sn != "" {
			cfg.ServiceName = sn
		} else {
			cfg.ServiceName = "colrpc-server"
		}
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC requests"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC requests"),
		)
	}

	server.SetDispatchHook(hook)
}

// otelHook implements colrpc.DispatchHook with OpenTelemetry tracing and
// metrics.
type otelHook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// spanToken is the HookToken returned by OnDispatchStart.
type spanToken struct {
	ctx       context.Context
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart starts a server span for one dispatched call.
func (h *otelHook) OnDispatchStart(info colrpc.DispatchInfo) colrpc.HookToken {
	if !h.cfg.EnableTracing {
		return &spanToken{ctx: context.Background(), startTime: time.Now()}
	}

	spanName := fmt.Sprintf("colrpc/%s", info.Method)

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "colrpc"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.colrpc.method_type", colrpc.MethodTypeString(info.MethodType)),
		attribute.String("rpc.colrpc.server_id", info.ServerID),
		attribute.String("rpc.colrpc.transport", info.Transport),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	return &spanToken{ctx: ctx, span: span, startTime: time.Now()}
}

// OnDispatchEnd records span attributes, metrics, and ends the span.
func (h *otelHook) OnDispatchEnd(token colrpc.HookToken, stats colrpc.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)
	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "colrpc"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(st.ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(st.ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span != nil && st.span.IsRecording() {
		st.span.SetAttributes(
			attribute.Int64("rpc.colrpc.input_batches", stats.InputBatches),
			attribute.Int64("rpc.colrpc.output_batches", stats.OutputBatches),
			attribute.Int64("rpc.colrpc.input_rows", stats.InputRows),
			attribute.Int64("rpc.colrpc.output_rows", stats.OutputRows),
			attribute.Int64("rpc.colrpc.input_bytes", stats.InputBytes),
			attribute.Int64("rpc.colrpc.output_bytes", stats.OutputBytes),
		)

		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			errType := fmt.Sprintf("%T", err)
			if rpcErr, ok := err.(*colrpc.RpcError); ok {
				errType = rpcErr.Type
			}
			st.span.SetAttributes(attribute.String("rpc.colrpc.error_type", errType))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}

		st.span.End()
	}
}
