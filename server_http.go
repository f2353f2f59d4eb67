// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/klauspost/compress/zstd"
)

const (
	arrowContentType        = ArrowContentType
	defaultTokenTTL         = 5 * time.Minute
	defaultMaxRequestBytes  = 64 << 20
	defaultStreamByteBudget = 4 << 20
	maxRequestBytesHeader   = MaxRequestBytesHeader
)

// HttpServer exposes a Server over the stateless HTTP transport described
// in its package-level documentation: one route per calling convention,
// HMAC-signed continuation tokens standing in for server-side memory
// between requests.
type HttpServer struct {
	server           *Server
	signingKey       []byte
	tokenTTL         time.Duration
	prefix           string
	maxRequestBytes  int64
	streamByteBudget int64
	allowedOrigins   []string // empty means "*"
	mux              *http.ServeMux

	landingHTML []byte
	notFoundHTML []byte
}

// NewHttpServer wraps server with a randomly generated signing key.
func NewHttpServer(server *Server) *HttpServer {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("colrpc: generating signing key: %v", err))
	}
	return NewHttpServerWithKey(server, key)
}

// NewHttpServerWithKey wraps server with a caller-supplied HMAC signing
// key, which must be at least 16 bytes. Use this in multi-process
// deployments so every instance can verify tokens minted by any other.
func NewHttpServerWithKey(server *Server, signingKey []byte) *HttpServer {
	if len(signingKey) < 16 {
		panic("colrpc: signing key must be at least 16 bytes")
	}
	h := &HttpServer{
		server:           server,
		signingKey:       signingKey,
		tokenTTL:         defaultTokenTTL,
		prefix:           "/rpc",
		maxRequestBytes:  defaultMaxRequestBytes,
		streamByteBudget: defaultStreamByteBudget,
	}
	h.rebuildPages()
	h.mux = http.NewServeMux()
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{method}/init", h.prefix), h.withCORS(h.handleStreamInit))
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{method}/exchange", h.prefix), h.withCORS(h.handleStreamExchange))
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{method}", h.prefix), h.withCORS(h.handleUnary))
	h.mux.HandleFunc(fmt.Sprintf("OPTIONS %s/__capabilities__", h.prefix), h.withCORS(h.handleCapabilities))
	h.mux.HandleFunc(fmt.Sprintf("GET %s/", h.prefix), h.handleDescribePage)
	h.mux.HandleFunc("GET /", h.handleLandingPage)
	h.mux.HandleFunc("/", h.handleNotFound)
	return h
}

// SetTokenTTL sets how long a continuation token remains valid.
func (h *HttpServer) SetTokenTTL(d time.Duration) { h.tokenTTL = d }

// SetMaxRequestBytes caps the size of an inbound request body, advertised
// to clients via the Colrpc-Max-Request-Bytes response header on the
// capabilities route.
func (h *HttpServer) SetMaxRequestBytes(n int64) { h.maxRequestBytes = n }

// SetStreamByteBudget caps how many response bytes a single producer HTTP
// call (/init or /exchange) will emit before cutting the stream short with a
// continuation token, so one slow client can't hold a response open
// indefinitely. An exchange call runs exactly one round and is not capped.
func (h *HttpServer) SetStreamByteBudget(n int64) { h.streamByteBudget = n }

// SetAllowedOrigins restricts CORS responses to the given origins. An
// empty list (the default) allows any origin.
func (h *HttpServer) SetAllowedOrigins(origins []string) { h.allowedOrigins = origins }

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *HttpServer) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else if len(h.allowedOrigins) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, Accept-Encoding")
		next(w, r)
	}
}

func (h *HttpServer) originAllowed(origin string) bool {
	for _, o := range h.allowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// handleCapabilities answers an OPTIONS preflight with the limits a client
// should respect before issuing real requests.
func (h *HttpServer) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(maxRequestBytesHeader, fmt.Sprintf("%d", h.maxRequestBytes))
	w.Header().Set("Accept-Encoding", "zstd, identity")
	w.WriteHeader(http.StatusNoContent)
}

func (h *HttpServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeHttpError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large or unreadable: %w", err), nil)
		return nil, false
	}
	if enc := r.Header.Get("Content-Encoding"); enc == "zstd" {
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			h.writeHttpError(w, http.StatusBadRequest, fmt.Errorf("invalid zstd body: %w", err), nil)
			return nil, false
		}
		defer dec.Close()
		body, err = io.ReadAll(dec)
		if err != nil {
			h.writeHttpError(w, http.StatusBadRequest, fmt.Errorf("decompressing zstd body: %w", err), nil)
			return nil, false
		}
	}
	return body, true
}

func (h *HttpServer) handleUnary(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type: %s", ct), nil)
		return
	}
	if method == ReservedDescribeMethod {
		h.handleDescribeIPC(w, r)
		return
	}

	info, ok := h.server.methods[method]
	if !ok {
		h.writeHttpError(w, http.StatusNotFound, &RpcError{Type: "AttributeError", Message: fmt.Sprintf("unknown method %q. Available methods: %v", method, h.server.availableMethods())}, nil)
		return
	}
	if info.Type != MethodUnary {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ContractError", Message: fmt.Sprintf("method %q is a stream; use /init", method)}, nil)
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, err := ReadRequest(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, err, nil)
		return
	}
	defer req.Batch.Release()

	rows, err := req.Rows()
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "TypeError", Message: err.Error()}, info.ResultSchema)
		return
	}

	call := h.server.newCallContext(r.Context(), req)
	result, callErr := info.UnaryFn(r.Context(), call, firstRowOrEmpty(rows))
	logs := call.drainLogs()

	var buf bytes.Buffer
	if callErr != nil {
		ipcW := ipc.NewWriter(&buf, ipc.WithSchema(info.ResultSchema))
		for _, logMsg := range logs {
			_ = writeLogBatch(ipcW, info.ResultSchema, logMsg, h.server.serverID, req.RequestID)
		}
		_ = writeErrorBatch(ipcW, info.ResultSchema, callErr, h.server.serverID, req.RequestID, h.server.debugErrors)
		_ = ipcW.Close()
		status := http.StatusInternalServerError
		if rpcErr, ok := callErr.(*RpcError); ok && (rpcErr.Type == "TypeError" || rpcErr.Type == "ValueError" || rpcErr.Type == "ContractError") {
			status = http.StatusBadRequest
		}
		h.writeArrow(w, r, status, buf.Bytes())
		return
	}

	resultBatch, err := RowsToBatch(nil, info.ResultSchema, []Row{result})
	if err != nil {
		h.writeHttpError(w, http.StatusInternalServerError, &RpcError{Type: "SerializationError", Message: err.Error()}, info.ResultSchema)
		return
	}
	defer resultBatch.Release()

	_ = WriteUnaryResponse(&buf, info.ResultSchema, logs, resultBatch, h.server.serverID, req.RequestID)
	h.writeArrow(w, r, http.StatusOK, buf.Bytes())
}

func (h *HttpServer) handleStreamInit(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type: %s", ct), nil)
		return
	}

	info, ok := h.server.methods[method]
	if !ok {
		h.writeHttpError(w, http.StatusNotFound, &RpcError{Type: "AttributeError", Message: fmt.Sprintf("unknown method %q. Available methods: %v", method, h.server.availableMethods())}, nil)
		return
	}
	if info.Type == MethodUnary {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ContractError", Message: fmt.Sprintf("method %q is unary; use the base endpoint", method)}, nil)
		return
	}
	if info.DecodeState == nil {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ContractError", Message: fmt.Sprintf("method %q cannot be resumed over HTTP", method)}, nil)
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, err := ReadRequest(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, err, nil)
		return
	}
	defer req.Batch.Release()

	rows, err := req.Rows()
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "TypeError", Message: err.Error()}, nil)
		return
	}

	call := h.server.newCallContext(r.Context(), req)
	streamResult, initErr := info.StreamFn(r.Context(), call, firstRowOrEmpty(rows))
	if initErr != nil {
		h.writeHttpError(w, http.StatusInternalServerError, initErr, nil)
		return
	}

	outputSchema := streamResult.OutputSchema
	isProducer := info.Type == MethodProducer

	var buf bytes.Buffer
	if info.hasHeader() && streamResult.HeaderRow != nil {
		if err := h.server.writeStreamHeader(&buf, info.HeaderSchema, streamResult.HeaderRow, call.drainLogs()); err != nil {
			h.writeHttpError(w, http.StatusInternalServerError, err, nil)
			return
		}
	}

	writer := ipc.NewWriter(&buf, ipc.WithSchema(outputSchema))
	for _, logMsg := range call.drainLogs() {
		_ = writeLogBatch(writer, outputSchema, logMsg, h.server.serverID, req.RequestID)
	}

	if isProducer {
		h.runBudgetedProduceLoop(r.Context(), writer, outputSchema, streamResult.State.(ProducerState), info, req.RequestID)
	} else {
		token := h.mintToken(streamResult.State, outputSchema, info.InputSchema)
		_ = writeStateTokenBatch(writer, outputSchema, token, h.server.serverID, req.RequestID)
	}
	_ = writer.Close()
	h.writeArrow(w, r, http.StatusOK, buf.Bytes())
}

func (h *HttpServer) handleStreamExchange(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type: %s", ct), nil)
		return
	}

	info, ok := h.server.methods[method]
	if !ok {
		h.writeHttpError(w, http.StatusNotFound, &RpcError{Type: "AttributeError", Message: fmt.Sprintf("unknown method %q. Available methods: %v", method, h.server.availableMethods())}, nil)
		return
	}
	if info.DecodeState == nil {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ContractError", Message: fmt.Sprintf("method %q cannot be resumed over HTTP", method)}, nil)
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	inputReader, err := ipc.NewReader(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, err, nil)
		return
	}
	defer inputReader.Release()

	if !inputReader.Next() {
		h.writeHttpError(w, http.StatusBadRequest, fmt.Errorf("no batch in exchange request"), nil)
		return
	}
	inputBatch := inputReader.RecordBatch()

	var encodedToken string
	if bwm, ok := inputBatch.(arrow.RecordWithMetadata); ok {
		if v, found := bwm.Metadata().GetValue(MetaStreamState); found {
			encodedToken = v
		}
	}
	if encodedToken == "" {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ContractError", Message: "missing continuation token on exchange request"}, nil)
		return
	}

	tok, err := unpackToken(h.signingKey, encodedToken, h.tokenTTL)
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, err, nil)
		return
	}
	state, err := info.DecodeState(tok.State)
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ProtocolError", Message: fmt.Sprintf("decoding state: %v", err)}, nil)
		return
	}

	outputSchema := info.OutputSchema
	if info.Type == MethodProducer {
		producerState, ok := state.(ProducerState)
		if !ok {
			h.writeHttpError(w, http.StatusInternalServerError, &RpcError{Type: "RuntimeError", Message: "decoded state does not implement ProducerState"}, nil)
			return
		}
		var buf bytes.Buffer
		writer := ipc.NewWriter(&buf, ipc.WithSchema(outputSchema))
		h.runBudgetedProduceLoop(r.Context(), writer, outputSchema, producerState, info, "")
		_ = writer.Close()
		h.writeArrow(w, r, http.StatusOK, buf.Bytes())
		return
	}

	exchangeState, ok := state.(ExchangeState)
	if !ok {
		h.writeHttpError(w, http.StatusInternalServerError, &RpcError{Type: "RuntimeError", Message: "decoded state does not implement ExchangeState"}, nil)
		return
	}

	if len(tok.InputSchemaIPC) > 0 {
		lockedSchema, err := deserializeSchema(tok.InputSchemaIPC)
		if err != nil {
			h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ProtocolError", Message: fmt.Sprintf("decoding locked input schema: %v", err)}, nil)
			return
		}
		if !schemasCompatible(lockedSchema, inputBatch.Schema()) {
			h.writeHttpError(w, http.StatusBadRequest, &RpcError{Type: "ProtocolError", Message: "exchange input schema changed between rounds"}, nil)
			return
		}
	}

	h.handleExchangeCall(r.Context(), w, r, inputBatch, outputSchema, exchangeState, info)
}

func (h *HttpServer) handleExchangeCall(ctx context.Context, w http.ResponseWriter, r *http.Request, inputBatch arrow.Record, schema *arrow.Schema, state ExchangeState, info *methodInfo) {
	out := newOutputCollector(schema, h.server.serverID, false)
	call := newCallContext(ctx, "", h.server.serverID, info.Name, LogTrace)

	var exchangeErr error
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				exchangeErr = &RpcError{Type: "RuntimeError", Message: fmt.Sprintf("%v", rv)}
			}
		}()
		exchangeErr = state.Exchange(ctx, inputBatch, out, call)
	}()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))

	if exchangeErr == nil {
		exchangeErr = out.validate()
	}
	if exchangeErr != nil {
		_ = writeErrorBatch(writer, schema, exchangeErr, h.server.serverID, "", h.server.debugErrors)
		_ = writer.Close()
		h.writeArrow(w, r, http.StatusInternalServerError, buf.Bytes())
		return
	}

	newToken := h.mintToken(state, schema, info.InputSchema)
	for i, ab := range out.batches {
		isDataBatch := i == out.dataBatchIdx
		switch {
		case ab.meta != nil:
			batchWithMeta := array.NewRecordBatchWithMetadata(schema, ab.batch.Columns(), ab.batch.NumRows(), *ab.meta)
			_ = writer.Write(batchWithMeta)
			batchWithMeta.Release()
		case isDataBatch:
			stateMeta := arrow.NewMetadata([]string{MetaStreamState}, []string{newToken})
			batchWithMeta := array.NewRecordBatchWithMetadata(schema, ab.batch.Columns(), ab.batch.NumRows(), stateMeta)
			_ = writer.Write(batchWithMeta)
			batchWithMeta.Release()
		default:
			_ = writer.Write(ab.batch)
		}
		ab.batch.Release()
	}

	_ = writer.Close()
	h.writeArrow(w, r, http.StatusOK, buf.Bytes())
}

// runBudgetedProduceLoop drives a producer's state machine until it
// finishes or the accumulated output crosses streamByteBudget, at which
// point it emits a continuation token instead of running unbounded inside
// one HTTP request.
func (h *HttpServer) runBudgetedProduceLoop(ctx context.Context, writer *ipc.Writer, schema *arrow.Schema, state ProducerState, info *methodInfo, requestID string) {
	var emitted int64
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		out := newOutputCollector(schema, h.server.serverID, true)
		call := newCallContext(ctx, requestID, h.server.serverID, info.Name, LogTrace)

		var produceErr error
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					produceErr = &RpcError{Type: "RuntimeError", Message: fmt.Sprintf("%v", rv)}
				}
			}()
			produceErr = state.Produce(ctx, out, call)
		}()

		if produceErr == nil && !out.Finished() {
			produceErr = out.validate()
		}
		if produceErr != nil {
			_ = writeErrorBatch(writer, schema, produceErr, h.server.serverID, requestID, h.server.debugErrors)
			return
		}

		for _, ab := range out.batches {
			if ab.meta != nil {
				batchWithMeta := array.NewRecordBatchWithMetadata(schema, ab.batch.Columns(), ab.batch.NumRows(), *ab.meta)
				_ = writer.Write(batchWithMeta)
				batchWithMeta.Release()
			} else {
				emitted += estimateBatchBytes(ab.batch)
				_ = writer.Write(ab.batch)
			}
			ab.batch.Release()
		}

		if out.Finished() {
			return
		}
		if info.DecodeState != nil && emitted >= h.streamByteBudget {
			token := h.mintToken(state, schema, nil)
			_ = writeStateTokenBatch(writer, schema, token, h.server.serverID, requestID)
			return
		}
	}
}

func (h *HttpServer) mintToken(state any, outputSchema, inputSchema *arrow.Schema) string {
	var stateBytes []byte
	if codec, ok := state.(StateCodec); ok {
		if b, err := codec.MarshalState(); err == nil {
			stateBytes = b
		}
	}
	var inputIPC []byte
	if inputSchema != nil {
		inputIPC = serializeSchema(inputSchema)
	}
	return packToken(h.signingKey, time.Now(), stateBytes, serializeSchema(outputSchema), inputIPC)
}

func (h *HttpServer) handleDescribeIPC(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, err := ReadRequest(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, err, nil)
		return
	}
	defer req.Batch.Release()

	batch, meta := h.server.buildDescribeBatch()
	defer batch.Release()
	batchWithMeta := array.NewRecordBatchWithMetadata(describeSchema, batch.Columns(), batch.NumRows(), meta)
	defer batchWithMeta.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(describeSchema))
	_ = writer.Write(batchWithMeta)
	_ = writer.Close()
	h.writeArrow(w, r, http.StatusOK, buf.Bytes())
}

func (h *HttpServer) writeHttpError(w http.ResponseWriter, statusCode int, err error, schema *arrow.Schema) {
	if schema == nil {
		schema = arrow.NewSchema(nil, nil)
	}
	var buf bytes.Buffer
	_ = WriteErrorResponse(&buf, schema, err, h.server.serverID, "", h.server.debugErrors)
	w.Header().Set("Content-Type", arrowContentType)
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

func (h *HttpServer) writeArrow(w http.ResponseWriter, r *http.Request, statusCode int, data []byte) {
	w.Header().Set("Content-Type", arrowContentType)
	if acceptsZstd(r) {
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err == nil {
			if _, err := enc.Write(data); err == nil && enc.Close() == nil {
				w.Header().Set("Content-Encoding", "zstd")
				w.WriteHeader(statusCode)
				_, _ = w.Write(buf.Bytes())
				return
			}
		}
	}
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func acceptsZstd(r *http.Request) bool {
	for _, enc := range r.Header.Values("Accept-Encoding") {
		if bytes.Contains([]byte(enc), []byte("zstd")) {
			return true
		}
	}
	return false
}
