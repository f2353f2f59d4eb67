// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import "sync/atomic"

// MethodType distinguishes the three calling conventions a registered
// method can expose.
type MethodType int

const (
	MethodUnary MethodType = iota
	MethodProducer
	MethodExchange
)

func methodTypeString(t MethodType) string {
	switch t {
	case MethodUnary:
		return "unary"
	case MethodProducer, MethodExchange:
		return "stream"
	default:
		return "unknown"
	}
}

// MethodTypeString is the exported form of methodTypeString, for
// embedders (e.g. observability hooks) outside this package that need to
// render a MethodType as the same string the describe batch uses.
func MethodTypeString(t MethodType) string { return methodTypeString(t) }

// batchBufferSize is not referenced by either transport: producer and
// exchange handlers run on the dispatching goroutine and their batches are
// written directly, with no channel in between.
const batchBufferSize = 8

// DispatchInfo describes one dispatch to a DispatchHook.
type DispatchInfo struct {
	Method     string
	MethodType MethodType
	RequestID  string
	ServerID   string
	Transport  string
}

// CallStatistics accumulates byte and row counters for a single dispatch,
// reported to a DispatchHook at OnDispatchEnd.
type CallStatistics struct {
	InputBatches  int64
	InputRows     int64
	InputBytes    int64
	OutputBatches int64
	OutputRows    int64
	OutputBytes   int64
}

// RecordInput accounts for one batch of caller-supplied data.
func (s *CallStatistics) RecordInput(rows int, bytes int64) {
	atomic.AddInt64(&s.InputBatches, 1)
	atomic.AddInt64(&s.InputRows, int64(rows))
	atomic.AddInt64(&s.InputBytes, bytes)
}

// RecordOutput accounts for one batch of handler-produced data.
func (s *CallStatistics) RecordOutput(rows int, bytes int64) {
	atomic.AddInt64(&s.OutputBatches, 1)
	atomic.AddInt64(&s.OutputRows, int64(rows))
	atomic.AddInt64(&s.OutputBytes, bytes)
}

// HookToken is returned by OnDispatchStart and passed back to OnDispatchEnd
// so a hook implementation can correlate the two calls without a map.
type HookToken any

// DispatchHook lets an embedder observe method dispatches on the pipe
// transport, e.g. to bridge into OpenTelemetry spans and metrics. HttpServer
// does not call it. Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(info DispatchInfo) HookToken
	OnDispatchEnd(token HookToken, stats CallStatistics, err error)
}

// noopHook is used when a server is not configured with a DispatchHook.
type noopHook struct{}

func (noopHook) OnDispatchStart(DispatchInfo) HookToken                { return nil }
func (noopHook) OnDispatchEnd(HookToken, CallStatistics, error) {}
