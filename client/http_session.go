// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/colrpc/colrpc"
)

// httpSession implements sessionBackend for HttpClient. It holds no
// connection of its own: each round is an independent HTTP request
// carrying the continuation token the previous round returned.
type httpSession struct {
	client     *HttpClient
	method     string
	headerRow  colrpc.Row
	isProducer bool

	mu           sync.Mutex
	token        string
	inSchema     *arrow.Schema
	pending      []colrpc.Row
	pendingValid bool
	closed       bool
}

func (s *httpSession) header() colrpc.Row { return s.headerRow }

func (s *httpSession) roundTrip(ctx context.Context, rows []colrpc.Row) ([]colrpc.Row, string, error) {
	schema := inferSchemaFromRows(rows)
	if s.inSchema == nil {
		s.inSchema = schema
	} else if !schemasCompatible(s.inSchema, schema) {
		return nil, "", &colrpc.RpcError{Type: "ProtocolError", Message: "exchange input schema changed between rounds"}
	}
	var buf bytes.Buffer
	if err := colrpc.WriteExchangeRequest(&buf, schema, rows, s.token); err != nil {
		return nil, "", fmt.Errorf("encoding round request: %w", err)
	}
	respBody, _, err := s.client.post(ctx, s.client.url("/"+s.method+"/exchange"), buf.Bytes())
	if err != nil {
		return nil, "", err
	}
	return readDataRound(bytes.NewReader(respBody))
}

func (s *httpSession) next(ctx context.Context) ([]colrpc.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingValid {
		rows := s.pending
		s.pending = nil
		s.pendingValid = false
		done := s.token == ""
		if done {
			s.closed = true
		}
		return rows, done, nil
	}
	if s.closed {
		return nil, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}

	rows, token, err := s.roundTrip(ctx, nil)
	if err != nil {
		s.closed = true
		return nil, true, err
	}
	s.token = token
	done := token == ""
	if done {
		s.closed = true
	}
	return rows, done, nil
}

func (s *httpSession) exchange(ctx context.Context, rows []colrpc.Row) ([]colrpc.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("colrpc/client: session already closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outRows, token, err := s.roundTrip(ctx, rows)
	if err != nil {
		s.closed = true
		return nil, err
	}
	if token == "" {
		s.closed = true
		return nil, &colrpc.RpcError{Type: "ProtocolError", Message: "exchange stream ended unexpectedly"}
	}
	s.token = token
	return outRows, nil
}

func (s *httpSession) close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
