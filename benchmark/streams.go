// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"context"
	"encoding/json"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/colrpc/colrpc"
)

// GenerateState produces Count rows with {i, value} where value = i * 10.
type GenerateState struct {
	Count   int
	Current int
}

func (s *GenerateState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Current >= s.Count {
		return out.Finish()
	}
	idx := int64(s.Current)
	s.Current++
	return out.EmitRows([]colrpc.Row{{"i": idx, "value": idx * 10}})
}

func (s *GenerateState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeGenerateState(data []byte) (any, error) {
	s := &GenerateState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// TransformState scales every input value by Factor.
type TransformState struct {
	Factor float64
}

func (s *TransformState) Exchange(_ context.Context, input arrow.Record, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
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

func (s *TransformState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeTransformState(data []byte) (any, error) {
	s := &TransformState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
