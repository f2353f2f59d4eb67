// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

// Package colrpc implements an RPC runtime whose wire format is Apache
// Arrow IPC streams.
//
// A method is one of three kinds:
//
//   - Unary: one request batch in, one response batch out.
//   - Producer: the server emits a sequence of output batches after a
//     single init call, driven by repeated client "tick" batches until
//     the server signals completion.
//   - Exchange: a lockstep bidirectional stream, one input batch in for
//     every one output batch out, ending when the client stops sending
//     input.
//
// Methods are registered on a *Server with RegisterUnary, RegisterProducer,
// and RegisterExchange (and their *WithHeader variants, for streams that
// send a one-row header batch before data begins). Handlers exchange
// parameters and results as Row values — map[string]any — validated
// against the method's declared Arrow schema rather than through
// reflection over a Go struct.
//
// Two transports are provided. Serve/ServeWithContext run the pipe
// transport: a single ordered duplex byte stream, at most one request in
// flight, used when a client launches this process as a subprocess.
// HttpServer runs the stateless HTTP transport: every call is a complete
// HTTP request/response, and a producer or exchange stream's running state
// survives between requests only as an HMAC-signed continuation token the
// client echoes back on its next call. A producer or exchange method must
// supply a DecodeStateFunc at registration time to be reachable through
// HttpServer.
//
// __describe__ is a reserved method name every server answers: a single
// batch listing every registered method's name, kind, parameter and result
// schemas, and documentation string, for client-side introspection.
package colrpc
