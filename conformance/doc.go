// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

// Package conformance registers a comprehensive set of RPC methods —
// unary, producer, and exchange — that exercise every feature of the
// wire protocol: scalar types, collections, nullable fields, struct
// round-trips, defaults, enums, error propagation, client-directed
// logging, stream headers, and bidirectional exchange.
//
// The only entry point intended for external use is [RegisterMethods],
// which registers every conformance method on a [colrpc.Server].
package conformance
