// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// RunStdio runs the pipe server loop against os.Stdin/os.Stdout, the
// transport used when this process is launched as a subprocess by a pipe
// client.
func (s *Server) RunStdio() {
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: this process communicates via Arrow IPC on stdin/stdout "+
				"and is not intended to be run interactively.\n"+
				"It should be launched as a subprocess by an RPC client.")
	}
	s.Serve(os.Stdin, os.Stdout)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the single-in-flight-request pipe loop on r/w until the
// transport closes.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext is Serve with an explicit base context, e.g. to carry
// cancellation from a signal handler.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) {
	for {
		if err := s.serveOne(ctx, r, w); err != nil {
			if err != io.EOF && !isTransportClosed(err) {
				slog.Error("serve loop error", "err", err)
			}
			return
		}
	}
}

func (s *Server) serveOne(ctx context.Context, r io.Reader, w io.Writer) error {
	req, err := ReadRequest(r)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		if rpcErr, ok := err.(*RpcError); ok {
			_ = WriteErrorResponse(w, arrow.NewSchema(nil, nil), rpcErr, s.serverID, "", s.debugErrors)
			return nil
		}
		return err
	}
	defer req.Batch.Release()

	if req.Method == ReservedDescribeMethod {
		return s.serveDescribe(w, req)
	}

	info, ok := s.methods[req.Method]
	if !ok {
		err := &RpcError{
			Type:    "AttributeError",
			Message: fmt.Sprintf("unknown method %q. Available methods: %v", req.Method, s.availableMethods()),
		}
		_ = WriteErrorResponse(w, arrow.NewSchema(nil, nil), err, s.serverID, req.RequestID, s.debugErrors)
		return nil
	}

	dispatchInfo := DispatchInfo{
		Method:     req.Method,
		MethodType: info.Type,
		ServerID:   s.serverID,
		RequestID:  req.RequestID,
		Transport:  "pipe",
	}
	hook := s.hookOrNoop()
	token := hook.OnDispatchStart(dispatchInfo)
	stats := &CallStatistics{}

	var handlerErr, transportErr error
	switch info.Type {
	case MethodUnary:
		handlerErr, transportErr = s.serveUnary(ctx, w, req, info, stats)
	default:
		handlerErr, transportErr = s.serveStream(ctx, r, w, req, info, stats)
	}

	hook.OnDispatchEnd(token, *stats, handlerErr)
	return transportErr
}

func (s *Server) hookOrNoop() DispatchHook {
	if s.dispatchHook != nil {
		return s.dispatchHook
	}
	return noopHook{}
}

func (s *Server) newCallContext(ctx context.Context, req *Request) *CallContext {
	level := req.LogLevel
	if level == "" {
		level = LogTrace
	}
	return newCallContext(ctx, req.RequestID, s.serverID, req.Method, level)
}

func (s *Server) serveUnary(ctx context.Context, w io.Writer, req *Request, info *methodInfo, stats *CallStatistics) (handlerErr, transportErr error) {
	rows, err := req.Rows()
	if err != nil {
		handlerErr = &RpcError{Type: "TypeError", Message: fmt.Sprintf("decoding parameters: %v", err)}
		_ = WriteErrorResponse(w, info.ResultSchema, handlerErr, s.serverID, req.RequestID, s.debugErrors)
		return handlerErr, nil
	}
	params := firstRowOrEmpty(rows)
	stats.RecordInput(int(req.Batch.NumRows()), estimateBatchBytes(req.Batch))

	call := s.newCallContext(ctx, req)
	result, callErr := info.UnaryFn(ctx, call, params)
	logs := call.drainLogs()

	if callErr != nil {
		return s.writeUnaryError(w, info, req, logs, callErr)
	}

	resultBatch, err := RowsToBatch(nil, info.ResultSchema, []Row{result})
	if err != nil {
		handlerErr = &RpcError{Type: "SerializationError", Message: fmt.Sprintf("encoding result: %v", err)}
		_ = WriteErrorResponse(w, info.ResultSchema, handlerErr, s.serverID, req.RequestID, s.debugErrors)
		return handlerErr, nil
	}
	defer resultBatch.Release()

	stats.RecordOutput(int(resultBatch.NumRows()), estimateBatchBytes(resultBatch))
	return nil, WriteUnaryResponse(w, info.ResultSchema, logs, resultBatch, s.serverID, req.RequestID)
}

func (s *Server) writeUnaryError(w io.Writer, info *methodInfo, req *Request, logs []LogMessage, callErr error) (error, error) {
	writer := ipc.NewWriter(w, ipc.WithSchema(info.ResultSchema))
	for _, logMsg := range logs {
		if err := writeLogBatch(writer, info.ResultSchema, logMsg, s.serverID, req.RequestID); err != nil {
			slog.Error("writing log batch", "err", err)
		}
	}
	if err := writeErrorBatch(writer, info.ResultSchema, callErr, s.serverID, req.RequestID, s.debugErrors); err != nil {
		slog.Error("writing error batch", "err", err)
	}
	if err := writer.Close(); err != nil {
		slog.Error("closing IPC writer", "err", err)
	}
	return callErr, nil
}

func (s *Server) serveStream(ctx context.Context, r io.Reader, w io.Writer, req *Request, info *methodInfo, stats *CallStatistics) (handlerErr, transportErr error) {
	rows, err := req.Rows()
	if err != nil {
		handlerErr = &RpcError{Type: "TypeError", Message: fmt.Sprintf("decoding parameters: %v", err)}
		_ = WriteErrorResponse(w, arrow.NewSchema(nil, nil), handlerErr, s.serverID, req.RequestID, s.debugErrors)
		return handlerErr, nil
	}
	params := firstRowOrEmpty(rows)

	call := s.newCallContext(ctx, req)
	streamResult, initErr := info.StreamFn(ctx, call, params)
	if initErr != nil {
		return s.failStream(w, r, info.OutputSchema, req, initErr)
	}

	outputSchema := streamResult.OutputSchema
	if outputSchema == nil {
		outputSchema = info.OutputSchema
	}
	isProducer := info.Type == MethodProducer

	if isProducer {
		if _, ok := streamResult.State.(ProducerState); !ok {
			err := &RpcError{Type: "RuntimeError", Message: fmt.Sprintf("stream state %T does not implement ProducerState", streamResult.State)}
			return s.failStream(w, r, outputSchema, req, err)
		}
	} else {
		if _, ok := streamResult.State.(ExchangeState); !ok {
			err := &RpcError{Type: "RuntimeError", Message: fmt.Sprintf("stream state %T does not implement ExchangeState", streamResult.State)}
			return s.failStream(w, r, outputSchema, req, err)
		}
	}

	if info.hasHeader() && streamResult.HeaderRow != nil {
		if err := s.writeStreamHeader(w, info.HeaderSchema, streamResult.HeaderRow, call.drainLogs()); err != nil {
			return nil, nil
		}
	}

	inputReader, err := ipc.NewReader(r)
	if err != nil {
		return nil, nil
	}
	defer inputReader.Release()

	outputWriter := ipc.NewWriter(w, ipc.WithSchema(outputSchema))
	for _, logMsg := range call.drainLogs() {
		if err := writeLogBatch(outputWriter, outputSchema, logMsg, s.serverID, req.RequestID); err != nil {
			slog.Error("writing init log batch", "err", err)
		}
	}

	var streamErr error
	for inputReader.Next() {
		inputBatch := inputReader.RecordBatch()
		stats.RecordInput(int(inputBatch.NumRows()), estimateBatchBytes(inputBatch))

		out := newOutputCollector(outputSchema, s.serverID, isProducer)
		iterCall := s.newCallContext(ctx, req)

		func() {
			defer func() {
				if rv := recover(); rv != nil {
					streamErr = &RpcError{Type: "RuntimeError", Message: fmt.Sprintf("%v", rv)}
				}
			}()
			if isProducer {
				streamErr = streamResult.State.(ProducerState).Produce(ctx, out, iterCall)
			} else {
				streamErr = streamResult.State.(ExchangeState).Exchange(ctx, inputBatch, out, iterCall)
			}
		}()

		if streamErr != nil {
			_ = writeErrorBatch(outputWriter, outputSchema, streamErr, s.serverID, req.RequestID, s.debugErrors)
			break
		}

		if !out.Finished() {
			if err := out.validate(); err != nil {
				streamErr = err
				_ = writeErrorBatch(outputWriter, outputSchema, err, s.serverID, req.RequestID, s.debugErrors)
				break
			}
		}

		if transportErr = s.flushOutputBatches(outputWriter, outputSchema, out, stats); transportErr != nil {
			break
		}
		if out.Finished() {
			break
		}
	}

	if err := outputWriter.Close(); err != nil {
		slog.Error("closing output writer", "err", err)
	}
	for inputReader.Next() {
		// drain so the transport stays aligned for the next request
	}
	return streamErr, transportErr
}

func (s *Server) flushOutputBatches(w *ipc.Writer, schema *arrow.Schema, out *OutputCollector, stats *CallStatistics) error {
	for i, ab := range out.batches {
		var writeErr error
		if ab.meta != nil {
			batchWithMeta := array.NewRecordBatchWithMetadata(schema, ab.batch.Columns(), ab.batch.NumRows(), *ab.meta)
			writeErr = w.Write(batchWithMeta)
			batchWithMeta.Release()
		} else {
			stats.RecordOutput(int(ab.batch.NumRows()), estimateBatchBytes(ab.batch))
			writeErr = w.Write(ab.batch)
		}
		ab.batch.Release()
		if writeErr != nil {
			for _, remaining := range out.batches[i+1:] {
				remaining.batch.Release()
			}
			return fmt.Errorf("writing output batch: %w", writeErr)
		}
	}
	return nil
}

func (s *Server) failStream(w io.Writer, r io.Reader, outputSchema *arrow.Schema, req *Request, err error) (error, error) {
	if outputSchema == nil {
		outputSchema = arrow.NewSchema(nil, nil)
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(outputSchema))
	if werr := writeErrorBatch(writer, outputSchema, err, s.serverID, req.RequestID, s.debugErrors); werr != nil {
		slog.Error("writing stream error batch", "err", werr)
	}
	if werr := writer.Close(); werr != nil {
		slog.Error("closing output writer", "err", werr)
	}
	if inputReader, rerr := ipc.NewReader(r); rerr == nil {
		for inputReader.Next() {
		}
		inputReader.Release()
	}
	return err, nil
}

func (s *Server) writeStreamHeader(w io.Writer, headerSchema *arrow.Schema, row Row, logs []LogMessage) error {
	headerBatch, err := RowsToBatch(nil, headerSchema, []Row{row})
	if err != nil {
		return err
	}
	defer headerBatch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(headerSchema))
	for _, logMsg := range logs {
		_ = writeLogBatch(writer, headerSchema, logMsg, s.serverID, "")
	}
	if err := writer.Write(headerBatch); err != nil {
		return err
	}
	return writer.Close()
}

func (s *Server) serveDescribe(w io.Writer, req *Request) error {
	batch, meta := s.buildDescribeBatch()
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(describeSchema, batch.Columns(), batch.NumRows(), meta)
	defer batchWithMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(describeSchema))
	defer writer.Close()
	return writer.Write(batchWithMeta)
}

func firstRowOrEmpty(rows []Row) Row {
	if len(rows) == 0 {
		return Row{}
	}
	return rows[0]
}

func estimateBatchBytes(batch arrow.Record) int64 {
	var total int64
	for i := range int(batch.NumCols()) {
		col := batch.Column(i)
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

func isTransportClosed(err error) bool {
	if err == io.EOF {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}
