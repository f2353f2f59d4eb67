// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

// Well-known metadata keys used in the colrpc wire protocol. These appear as
// custom_metadata on Arrow IPC RecordBatch messages.
const (
	MetaMethod          = "colrpc.method"
	MetaRequestVersion  = "colrpc.request_version"
	MetaRequestID       = "colrpc.request_id"
	MetaLogLevel        = "colrpc.log_level"
	MetaLogMessage      = "colrpc.log_message"
	MetaLogExtra        = "colrpc.log_extra"
	MetaServerID        = "colrpc.server_id"
	MetaStreamState     = "colrpc.stream_state"
	MetaProtocolName    = "colrpc.protocol_name"
	MetaDescribeVersion = "colrpc.describe_version"

	// RequestVersion is the only request_version value the wire codec
	// currently accepts.
	RequestVersion = "1"
	// DescribeVersion identifies the shape of the __describe__ batch.
	DescribeVersion = "2"
	// StateTokenVersion is the first byte of every packed state token.
	StateTokenVersion = byte(2)
	// HMACSize is the length, in bytes, of the trailing signature on a
	// state token.
	HMACSize = 32
	// MinTokenSize is the smallest possible packed-token length: version
	// (1) + created_at (8) + three empty length-prefixed blobs (4*3) + MAC (32).
	MinTokenSize = 1 + 8 + 4 + 4 + 4 + HMACSize

	// ReservedDescribeMethod is the method name the server handles directly,
	// without entering ordinary method dispatch.
	ReservedDescribeMethod = "__describe__"

	// ArrowContentType is the Content-Type of every HTTP request and
	// response body the wire protocol exchanges.
	ArrowContentType = "application/vnd.apache.arrow.stream"
	// MaxRequestBytesHeader carries an HttpServer's configured request-body
	// ceiling back to the client in the response to the OPTIONS
	// __capabilities__ preflight, so a client can learn the limit without
	// guessing.
	MaxRequestBytesHeader = "Colrpc-Max-Request-Bytes"
)
