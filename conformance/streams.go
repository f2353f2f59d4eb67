// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/colrpc/colrpc"
)

// CounterProducerState emits index/value rows 0..Count-1, one per tick.
type CounterProducerState struct {
	Count   int
	Current int
}

func (s *CounterProducerState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Current >= s.Count {
		return out.Finish()
	}
	row := colrpc.Row{"index": int64(s.Current), "value": int64(s.Current * s.Current)}
	s.Current++
	return out.EmitRows([]colrpc.Row{row})
}

func (s *CounterProducerState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeCounterProducerState(data []byte) (any, error) {
	s := &CounterProducerState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// EmptyProducerState finishes on its very first tick without emitting a row.
type EmptyProducerState struct{}

func (s *EmptyProducerState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	return out.Finish()
}

func (s *EmptyProducerState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeEmptyProducerState(data []byte) (any, error) {
	s := &EmptyProducerState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SingleProducerState emits exactly one row, then finishes on the next tick.
type SingleProducerState struct {
	Emitted bool
}

func (s *SingleProducerState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Emitted {
		return out.Finish()
	}
	s.Emitted = true
	return out.EmitRows([]colrpc.Row{{"index": int64(0), "value": int64(0)}})
}

func (s *SingleProducerState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeSingleProducerState(data []byte) (any, error) {
	s := &SingleProducerState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// LargeProducerState emits BatchCount batches of RowsPerBatch rows each,
// exercising the wire codec's handling of multi-row batches.
type LargeProducerState struct {
	RowsPerBatch int
	BatchCount   int
	Current      int
}

func (s *LargeProducerState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Current >= s.BatchCount {
		return out.Finish()
	}
	rows := make([]colrpc.Row, s.RowsPerBatch)
	base := s.Current * s.RowsPerBatch
	for i := range rows {
		idx := base + i
		rows[i] = colrpc.Row{"index": int64(idx), "value": int64(idx)}
	}
	s.Current++
	return out.EmitRows(rows)
}

func (s *LargeProducerState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeLargeProducerState(data []byte) (any, error) {
	s := &LargeProducerState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// LoggingProducerState emits Count rows, logging before each one.
type LoggingProducerState struct {
	Count   int
	Current int
}

func (s *LoggingProducerState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Current >= s.Count {
		return out.Finish()
	}
	out.ClientLog(colrpc.LogInfo, fmt.Sprintf("emitting row %d", s.Current))
	row := colrpc.Row{"index": int64(s.Current), "value": int64(s.Current)}
	s.Current++
	return out.EmitRows([]colrpc.Row{row})
}

func (s *LoggingProducerState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeLoggingProducerState(data []byte) (any, error) {
	s := &LoggingProducerState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ErrorAfterNState emits EmitBeforeError rows, then fails on the next tick.
type ErrorAfterNState struct {
	EmitBeforeError int
	Current         int
}

func (s *ErrorAfterNState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Current >= s.EmitBeforeError {
		return &colrpc.RpcError{Type: "RuntimeError", Message: fmt.Sprintf("intentional error after %d batches", s.EmitBeforeError)}
	}
	row := colrpc.Row{"index": int64(s.Current), "value": int64(s.Current)}
	s.Current++
	return out.EmitRows([]colrpc.Row{row})
}

func (s *ErrorAfterNState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeErrorAfterNState(data []byte) (any, error) {
	s := &ErrorAfterNState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// HeaderProducerState emits index/value rows 0..Count-1, one per tick, with
// value equal to index (CounterProducerState squares it instead). It is the
// state of the header-stream producer methods.
type HeaderProducerState struct {
	Count   int
	Current int
}

func (s *HeaderProducerState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Current >= s.Count {
		return out.Finish()
	}
	row := colrpc.Row{"index": int64(s.Current), "value": int64(s.Current)}
	s.Current++
	return out.EmitRows([]colrpc.Row{row})
}

func (s *HeaderProducerState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeHeaderProducerState(data []byte) (any, error) {
	s := &HeaderProducerState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ScaleExchangeState multiplies each input value by Factor.
type ScaleExchangeState struct {
	Factor float64
}

func (s *ScaleExchangeState) Exchange(_ context.Context, input arrow.Record, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	rows, err := colrpc.BatchToRows(input)
	if err != nil {
		return err
	}
	outRows := make([]colrpc.Row, len(rows))
	for i, r := range rows {
		v, err := colrpc.ToFloat64(r["value"])
		if err != nil {
			return err
		}
		outRows[i] = colrpc.Row{"value": v * s.Factor}
	}
	return out.EmitRows(outRows)
}

func (s *ScaleExchangeState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeScaleExchangeState(data []byte) (any, error) {
	s := &ScaleExchangeState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// AccumulatingExchangeState sums every input value it has seen across
// rounds and reports the running total plus the round count on each reply.
type AccumulatingExchangeState struct {
	RunningSum    float64
	ExchangeCount int64
}

func (s *AccumulatingExchangeState) Exchange(_ context.Context, input arrow.Record, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	rows, err := colrpc.BatchToRows(input)
	if err != nil {
		return err
	}
	for _, r := range rows {
		v, err := colrpc.ToFloat64(r["value"])
		if err != nil {
			return err
		}
		s.RunningSum += v
	}
	s.ExchangeCount++
	return out.EmitRows([]colrpc.Row{{"running_sum": s.RunningSum, "exchange_count": s.ExchangeCount}})
}

func (s *AccumulatingExchangeState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeAccumulatingExchangeState(data []byte) (any, error) {
	s := &AccumulatingExchangeState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// LoggingExchangeState echoes its input unchanged, logging once per round.
type LoggingExchangeState struct{}

func (s *LoggingExchangeState) Exchange(_ context.Context, input arrow.Record, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	rows, err := colrpc.BatchToRows(input)
	if err != nil {
		return err
	}
	out.ClientLog(colrpc.LogInfo, fmt.Sprintf("exchange round: %d rows", len(rows)))
	return out.EmitRows(rows)
}

func (s *LoggingExchangeState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeLoggingExchangeState(data []byte) (any, error) {
	return &LoggingExchangeState{}, nil
}

// FailOnExchangeNState echoes input unchanged until round FailOn, then
// fails instead of replying.
type FailOnExchangeNState struct {
	FailOn        int
	ExchangeCount int
}

func (s *FailOnExchangeNState) Exchange(_ context.Context, input arrow.Record, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	s.ExchangeCount++
	if s.ExchangeCount == s.FailOn {
		return &colrpc.RpcError{Type: "RuntimeError", Message: fmt.Sprintf("intentional failure on round %d", s.ExchangeCount)}
	}
	rows, err := colrpc.BatchToRows(input)
	if err != nil {
		return err
	}
	return out.EmitRows(rows)
}

func (s *FailOnExchangeNState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeFailOnExchangeNState(data []byte) (any, error) {
	s := &FailOnExchangeNState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
