// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/colrpc/colrpc"
)

// readDataRound reads one complete IPC stream from r and returns its data
// rows plus any continuation token it carries. A batch classified as
// BatchStateToken contributes to both: the exchange transport attaches the
// token to the same batch that carries real result columns, while a
// producer's continuation token rides alone on a zero-row batch.
func readDataRound(r io.Reader) ([]colrpc.Row, string, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, "", fmt.Errorf("reading response stream: %w", err)
	}
	defer reader.Release()

	var rows []colrpc.Row
	var token string
	for reader.Next() {
		batch := reader.RecordBatch()
		switch colrpc.ClassifyBatch(batch) {
		case colrpc.BatchError:
			return nil, "", colrpc.DecodeErrorBatch(batch)
		case colrpc.BatchLog:
			continue
		case colrpc.BatchStateToken:
			if bwm, ok := batch.(arrow.RecordWithMetadata); ok {
				if v, found := bwm.Metadata().GetValue(colrpc.MetaStreamState); found {
					token = v
				}
			}
			batchRows, err := colrpc.BatchToRows(batch)
			if err != nil {
				return nil, "", err
			}
			rows = append(rows, batchRows...)
		default:
			batchRows, err := colrpc.BatchToRows(batch)
			if err != nil {
				return nil, "", err
			}
			rows = append(rows, batchRows...)
		}
	}
	return rows, token, nil
}
