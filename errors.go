// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrRpc is a sentinel for use with errors.Is to check whether any error in
// a chain is an *RpcError.
var ErrRpc = &RpcError{}

// RpcError is the error taxonomy of the wire protocol: Type carries the
// caller-visible error kind (e.g. "ValueError", "ProtocolError",
// "VersionError", "ContractError"), Message is a human-readable detail.
type RpcError struct {
	Type      string
	Message   string
	Traceback string
	RequestID string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is supports errors.Is. A target with an empty Type (e.g. ErrRpc) matches
// any *RpcError; otherwise the two must carry the same Type, so callers can
// write errors.Is(err, &RpcError{Type: "ContractError"}) to test for one
// specific kind rather than any RpcError at all.
func (e *RpcError) Is(target error) bool {
	t, ok := target.(*RpcError)
	if !ok {
		return false
	}
	if t.Type == "" {
		return true
	}
	return e.Type == t.Type
}

// stackFrame is one entry of a captured Go stack trace.
type stackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// errorExtra is the JSON structure written to the log_extra metadata key of
// an EXCEPTION batch.
type errorExtra struct {
	ExceptionType    string       `json:"exception_type"`
	ExceptionMessage string       `json:"exception_message"`
	Traceback        string       `json:"traceback"`
	Frames           []stackFrame `json:"frames,omitempty"`
}

// buildErrorExtra renders the log_extra JSON payload for an error batch.
// When debugErrors is false the traceback and frame list are omitted so a
// public-facing deployment does not leak file paths or function names.
func buildErrorExtra(err error, debugErrors bool) string {
	errType := fmt.Sprintf("%T", err)
	errMsg := err.Error()
	if rpcErr, ok := err.(*RpcError); ok {
		errType = rpcErr.Type
		errMsg = rpcErr.Message
	}

	extra := errorExtra{
		ExceptionType:    errType,
		ExceptionMessage: errMsg,
	}

	if debugErrors {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		extra.Traceback = string(buf[:n])

		pcs := make([]uintptr, 10)
		n = runtime.Callers(2, pcs)
		if n > 0 {
			callersFrames := runtime.CallersFrames(pcs[:n])
			for count := 0; count < 5; count++ {
				frame, more := callersFrames.Next()
				extra.Frames = append(extra.Frames, stackFrame{
					File:     frame.File,
					Line:     frame.Line,
					Function: frame.Function,
				})
				if !more {
					break
				}
			}
		}
	}

	data, _ := json.Marshal(extra)
	return string(data)
}

// remoteErrorFromExtra reconstructs an *RpcError from a decoded log_extra
// payload, the inverse of buildErrorExtra. Used by clients when a batch
// classifies as BatchError.
func remoteErrorFromExtra(message string, extra map[string]any) *RpcError {
	errType := "RemoteError"
	if v, ok := extra["exception_type"].(string); ok && v != "" {
		errType = v
	}
	msg := message
	if v, ok := extra["exception_message"].(string); ok && v != "" {
		msg = v
	}
	tb, _ := extra["traceback"].(string)
	return &RpcError{Type: errType, Message: msg, Traceback: tb}
}

// DecodeErrorBatch reconstructs the *RpcError carried by a batch that
// ClassifyBatch identified as BatchError, the client-side inverse of
// writeErrorBatch.
func DecodeErrorBatch(batch arrow.Record) error {
	meta := batchMetadata(batch)
	message, _ := meta.GetValue(MetaLogMessage)
	requestID, _ := meta.GetValue(MetaRequestID)
	var extra map[string]any
	if raw, ok := meta.GetValue(MetaLogExtra); ok {
		_ = json.Unmarshal([]byte(raw), &extra)
	}
	rpcErr := remoteErrorFromExtra(message, extra)
	rpcErr.RequestID = requestID
	return rpcErr
}

// DecodeLogBatch reconstructs the LogMessage carried by a batch that
// ClassifyBatch identified as BatchLog.
func DecodeLogBatch(batch arrow.Record) LogMessage {
	meta := batchMetadata(batch)
	level, _ := meta.GetValue(MetaLogLevel)
	message, _ := meta.GetValue(MetaLogMessage)
	var extra map[string]string
	if raw, ok := meta.GetValue(MetaLogExtra); ok {
		_ = json.Unmarshal([]byte(raw), &extra)
	}
	return LogMessage{Level: LogLevel(level), Message: message, Extras: extra}
}
