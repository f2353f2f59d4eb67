// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/colrpc/colrpc"
)

// sessionBackend is implemented by each transport's stream driver: the pipe
// client's lockstep loop over a held connection, or the HTTP client's
// token-carrying round trips.
type sessionBackend interface {
	header() colrpc.Row
	exchange(ctx context.Context, rows []colrpc.Row) ([]colrpc.Row, error)
	next(ctx context.Context) ([]colrpc.Row, bool, error)
	close(ctx context.Context) error
}

// Session drives one open producer or exchange stream, independent of
// which transport opened it.
type Session struct {
	backend sessionBackend
}

// Header returns the stream's header row, or nil if the method declares
// none.
func (s *Session) Header() colrpc.Row { return s.backend.header() }

// Exchange sends one round of input rows and returns the server's matching
// output rows. Valid only on exchange streams.
func (s *Session) Exchange(ctx context.Context, rows []colrpc.Row) ([]colrpc.Row, error) {
	return s.backend.exchange(ctx, rows)
}

// Next advances a producer stream by one tick, returning its next batch of
// rows. done is true once the producer has finished. On the pipe transport
// rows is then empty; on the HTTP transport the producer's last rows can
// arrive together with done = true.
func (s *Session) Next(ctx context.Context) (rows []colrpc.Row, done bool, err error) {
	return s.backend.next(ctx)
}

// Close ends the stream. It is safe to call on an already-finished
// producer stream.
func (s *Session) Close(ctx context.Context) error { return s.backend.close(ctx) }
