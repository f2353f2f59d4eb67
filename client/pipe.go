// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/colrpc/colrpc"
)

// PipeClient drives the wire protocol over a single ordered duplex byte
// stream, e.g. a subprocess's combined stdin/stdout. Only one call or
// stream may be in flight at a time: acquireBusy holds a mutex for the
// full duration of a unary call, and for the full lifetime of an open
// Session.
type PipeClient struct {
	rw       io.ReadWriteCloser
	mu       sync.Mutex
	logLevel colrpc.LogLevel
	seq      atomic.Uint64

	descMu    sync.Mutex
	descCache map[string]MethodDescriptor
}

// NewPipeClient wraps rw, which must be a single ordered duplex byte
// channel shared with exactly one colrpc pipe server.
func NewPipeClient(rw io.ReadWriteCloser) *PipeClient {
	return &PipeClient{rw: rw, logLevel: colrpc.LogInfo}
}

// SetLogLevel sets the minimum severity of ClientLog messages the server
// will flush back on this client's calls and streams.
func (c *PipeClient) SetLogLevel(level colrpc.LogLevel) { c.logLevel = level }

// Close closes the underlying transport. A call or stream in flight will
// observe an I/O error.
func (c *PipeClient) Close() error { return c.rw.Close() }

func (c *PipeClient) newRequestID() string {
	return strconv.FormatUint(c.seq.Add(1), 10)
}

func (c *PipeClient) acquireBusy() { c.mu.Lock() }
func (c *PipeClient) release()     { c.mu.Unlock() }

// Call invokes a unary method and returns its single result row.
func (c *PipeClient) Call(ctx context.Context, method string, params colrpc.Row) (colrpc.Row, error) {
	rows, err := c.callRaw(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return colrpc.Row{}, nil
	}
	return rows[0], nil
}

// Describe fetches the server's method registry.
func (c *PipeClient) Describe(ctx context.Context) ([]MethodDescriptor, error) {
	rows, err := c.callRaw(ctx, colrpc.ReservedDescribeMethod, colrpc.Row{})
	if err != nil {
		return nil, err
	}
	return parseDescribeRows(rows)
}

// callRaw performs one busy-locked request/response round trip and returns
// every data row the response carries.
func (c *PipeClient) callRaw(_ context.Context, method string, params colrpc.Row) ([]colrpc.Row, error) {
	c.acquireBusy()
	defer c.release()

	schema := inferSchema(params)
	if err := colrpc.WriteRequest(c.rw, schema, params, method, c.newRequestID(), c.logLevel); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	reader, err := ipc.NewReader(c.rw)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	defer reader.Release()

	var rows []colrpc.Row
	for reader.Next() {
		batch := reader.RecordBatch()
		switch colrpc.ClassifyBatch(batch) {
		case colrpc.BatchError:
			return nil, colrpc.DecodeErrorBatch(batch)
		case colrpc.BatchLog:
			continue
		default:
			batchRows, err := colrpc.BatchToRows(batch)
			if err != nil {
				return nil, err
			}
			rows = batchRows
		}
	}
	return rows, nil
}

// methodDescriptor resolves a method's descriptor, fetching and caching
// the server's full registry on first use. A pipe session needs to know
// ahead of time whether its method declares a header, since the header (if
// any) arrives as a separate, self-terminating IPC stream before the
// lockstep data loop begins.
func (c *PipeClient) methodDescriptor(ctx context.Context, method string) (MethodDescriptor, error) {
	c.descMu.Lock()
	if d, ok := c.descCache[method]; ok {
		c.descMu.Unlock()
		return d, nil
	}
	c.descMu.Unlock()

	descs, err := c.Describe(ctx)
	if err != nil {
		return MethodDescriptor{}, err
	}

	c.descMu.Lock()
	defer c.descMu.Unlock()
	if c.descCache == nil {
		c.descCache = make(map[string]MethodDescriptor, len(descs))
	}
	for _, d := range descs {
		c.descCache[d.Name] = d
	}
	d, ok := c.descCache[method]
	if !ok {
		return MethodDescriptor{}, &colrpc.RpcError{Type: "AttributeError", Message: fmt.Sprintf("unknown method %q", method)}
	}
	return d, nil
}

// Stream opens a producer or exchange method and returns a Session for
// driving its rounds. The single-flight lock is held for the Session's
// entire lifetime and only released by Session.Close or by the stream's
// own natural end.
func (c *PipeClient) Stream(ctx context.Context, method string, params colrpc.Row) (*Session, error) {
	desc, err := c.methodDescriptor(ctx, method)
	if err != nil {
		return nil, err
	}

	c.acquireBusy()

	schema := inferSchema(params)
	if err := colrpc.WriteRequest(c.rw, schema, params, method, c.newRequestID(), c.logLevel); err != nil {
		c.release()
		return nil, fmt.Errorf("writing stream init request: %w", err)
	}

	var headerRow colrpc.Row
	if desc.HasHeader {
		hdrReader, err := ipc.NewReader(c.rw)
		if err != nil {
			c.release()
			return nil, fmt.Errorf("reading stream header: %w", err)
		}
		for hdrReader.Next() {
			batch := hdrReader.RecordBatch()
			switch colrpc.ClassifyBatch(batch) {
			case colrpc.BatchError:
				rpcErr := colrpc.DecodeErrorBatch(batch)
				hdrReader.Release()
				c.release()
				return nil, rpcErr
			case colrpc.BatchLog:
				continue
			default:
				if rows, err := colrpc.BatchToRows(batch); err == nil && len(rows) > 0 {
					headerRow = rows[0]
				}
			}
		}
		hdrReader.Release()
	}

	// The server writes nothing on the output stream until it has read the
	// first input batch, so the schema is read lazily on the first round.
	outReader, err := ipc.NewReader(c.rw, ipc.WithDelayReadSchema(true))
	if err != nil {
		c.release()
		return nil, fmt.Errorf("reading stream output: %w", err)
	}

	sess := &pipeSession{
		client:       c,
		headerRow:    headerRow,
		isProducer:   desc.Type == colrpc.MethodProducer,
		outputSchema: desc.ResultSchema,
		outReader:    outReader,
	}
	return &Session{backend: sess}, nil
}

// pipeSession implements sessionBackend for PipeClient.
type pipeSession struct {
	client       *PipeClient
	headerRow    colrpc.Row
	isProducer   bool
	outputSchema *arrow.Schema

	outReader *ipc.Reader
	inWriter  *ipc.Writer
	inSchema  *arrow.Schema
	closed    bool
}

func (s *pipeSession) header() colrpc.Row { return s.headerRow }

func (s *pipeSession) ensureInputWriter(schema *arrow.Schema) *ipc.Writer {
	if s.inWriter == nil {
		s.inSchema = schema
		s.inWriter = ipc.NewWriter(s.client.rw, ipc.WithSchema(schema))
	}
	return s.inWriter
}

func (s *pipeSession) next(ctx context.Context) ([]colrpc.Row, bool, error) {
	if s.closed {
		return nil, true, fmt.Errorf("colrpc/client: session already closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}

	tickSchema := arrow.NewSchema(nil, nil)
	w := s.ensureInputWriter(tickSchema)

	tickBatch, err := colrpc.RowsToBatch(nil, tickSchema, []colrpc.Row{{}})
	if err != nil {
		return nil, true, err
	}
	werr := w.Write(tickBatch)
	tickBatch.Release()
	if werr != nil {
		s.failAndRelease(werr)
		return nil, true, werr
	}

	return s.readRound()
}

func (s *pipeSession) exchange(ctx context.Context, rows []colrpc.Row) ([]colrpc.Row, error) {
	if s.closed {
		return nil, fmt.Errorf("colrpc/client: session already closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema := s.inSchema
	if schema == nil {
		schema = inferSchemaFromRows(rows)
	} else if !schemasCompatible(schema, inferSchemaFromRows(rows)) {
		return nil, &colrpc.RpcError{Type: "ProtocolError", Message: "exchange input schema changed between rounds"}
	}
	w := s.ensureInputWriter(schema)

	batch, err := colrpc.RowsToBatch(nil, schema, rows)
	if err != nil {
		return nil, err
	}
	werr := w.Write(batch)
	batch.Release()
	if werr != nil {
		s.failAndRelease(werr)
		return nil, werr
	}

	outRows, done, err := s.readRound()
	if err != nil {
		return nil, err
	}
	if done {
		err := &colrpc.RpcError{Type: "ProtocolError", Message: "exchange stream ended unexpectedly"}
		return nil, err
	}
	return outRows, nil
}

// readRound reads batches off the session's shared output reader until a
// data batch, an error, or end-of-stream.
func (s *pipeSession) readRound() ([]colrpc.Row, bool, error) {
	for s.outReader.Next() {
		batch := s.outReader.RecordBatch()
		switch colrpc.ClassifyBatch(batch) {
		case colrpc.BatchError:
			rpcErr := colrpc.DecodeErrorBatch(batch)
			s.failAndRelease(rpcErr)
			return nil, true, rpcErr
		case colrpc.BatchLog:
			continue
		default:
			rows, err := colrpc.BatchToRows(batch)
			if err != nil {
				return nil, false, err
			}
			return rows, false, nil
		}
	}
	s.closed = true
	// The server drains input after finishing; end the input stream so that
	// drain completes before the next request.
	if s.inWriter != nil {
		_ = s.inWriter.Close()
	}
	s.outReader.Release()
	s.client.release()
	return nil, true, nil
}

// failAndRelease writes the input stream's end-of-stream marker so the
// server's blocked read unblocks, drains whatever output the server still
// sends, and releases the single-flight lock. Called whenever a round
// fails mid-session.
func (s *pipeSession) failAndRelease(_ error) {
	if s.closed {
		return
	}
	s.closed = true

	w := s.inWriter
	if w == nil {
		w = ipc.NewWriter(s.client.rw, ipc.WithSchema(arrow.NewSchema(nil, nil)))
	}
	_ = w.Close()

	for s.outReader.Next() {
	}
	s.outReader.Release()
	s.client.release()
}

func (s *pipeSession) close(_ context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	w := s.inWriter
	if w == nil {
		w = ipc.NewWriter(s.client.rw, ipc.WithSchema(arrow.NewSchema(nil, nil)))
	}
	closeErr := w.Close()

	go func() {
		for s.outReader.Next() {
		}
		s.outReader.Release()
		s.client.release()
	}()

	return closeErr
}
