// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
)

// UnaryHandler implements a request/response method. params is the single
// decoded parameter row; the returned Row is serialized against the
// method's result schema.
type UnaryHandler func(ctx context.Context, call *CallContext, params Row) (Row, error)

// StreamHandler opens a producer or exchange method. On success it returns
// a *StreamResult whose State drives the lockstep loop; params is the
// decoded init-request row.
type StreamHandler func(ctx context.Context, call *CallContext, params Row) (*StreamResult, error)

// StateCodec is implemented by a stream's State object when the method is
// to be reachable over the stateless HTTP transport. MarshalState produces
// the opaque blob embedded in a signed continuation token; DecodeState (on
// methodInfo) is its inverse, reconstructing a State for the next request.
type StateCodec interface {
	MarshalState() ([]byte, error)
}

// DecodeStateFunc reconstructs a stream's State from the blob a prior
// MarshalState call produced. The result must implement ProducerState or
// ExchangeState, matching the method's registered kind.
type DecodeStateFunc func(data []byte) (any, error)

// methodInfo stores everything the dispatcher and the __describe__
// introspection endpoint need about one registered method.
type methodInfo struct {
	Name          string
	Type          MethodType
	Doc           string
	ParamsSchema  *arrow.Schema
	ResultSchema  *arrow.Schema // unary only
	OutputSchema  *arrow.Schema // stream only
	InputSchema   *arrow.Schema // exchange only
	HeaderSchema  *arrow.Schema // optional stream header
	ParamDefaults map[string]string
	UnaryFn       UnaryHandler
	StreamFn      StreamHandler
	DecodeState   DecodeStateFunc // nil if the method cannot resume over stateless HTTP
}

func (m *methodInfo) hasHeader() bool { return m.HeaderSchema != nil }

// Server is the RPC server: a registry of methods plus dispatch loops for
// the pipe and HTTP transports.
type Server struct {
	methods      map[string]*methodInfo
	serverID     string
	serviceName  string
	dispatchHook DispatchHook
	debugErrors  bool
}

// NewServer creates an empty method registry.
func NewServer() *Server {
	return &Server{methods: make(map[string]*methodInfo)}
}

// SetServerID sets the identifier attached to response metadata.
func (s *Server) SetServerID(id string) { s.serverID = id }

// SetServiceName sets the logical service name surfaced to observability hooks.
func (s *Server) SetServiceName(name string) { s.serviceName = name }

// ServiceName returns the logical service name, or "" if unset.
func (s *Server) ServiceName() string { return s.serviceName }

// SetDispatchHook installs a hook invoked around every pipe-transport
// dispatch. HttpServer's handlers do not invoke it.
func (s *Server) SetDispatchHook(hook DispatchHook) { s.dispatchHook = hook }

// SetDebugErrors controls whether error batches carry a stack trace and
// call-frame list. Leave disabled for public-facing deployments.
func (s *Server) SetDebugErrors(enabled bool) { s.debugErrors = enabled }

func (s *Server) register(name string, info *methodInfo) {
	if name == ReservedDescribeMethod {
		panic(fmt.Sprintf("colrpc: %q is a reserved method name", name))
	}
	if _, exists := s.methods[name]; exists {
		panic(fmt.Sprintf("colrpc: method %q already registered", name))
	}
	info.Name = name
	s.methods[name] = info
}

// RegisterUnary registers a request/response method.
func (s *Server) RegisterUnary(name string, paramsSchema, resultSchema *arrow.Schema, doc string, defaults map[string]string, fn UnaryHandler) {
	if resultSchema == nil {
		resultSchema = arrow.NewSchema(nil, nil)
	}
	s.register(name, &methodInfo{
		Type:          MethodUnary,
		Doc:           doc,
		ParamsSchema:  emptySchemaIfNil(paramsSchema),
		ResultSchema:  resultSchema,
		ParamDefaults: defaults,
		UnaryFn:       fn,
	})
}

// RegisterProducer registers a server-driven streaming method. decodeState
// may be nil if the method is only ever served over the pipe transport,
// where stream state lives in server process memory rather than in a
// token; the HTTP transport's /init and /exchange routes return a
// ContractError for a method with no DecodeState.
func (s *Server) RegisterProducer(name string, paramsSchema, outputSchema *arrow.Schema, doc string, defaults map[string]string, fn StreamHandler, decodeState DecodeStateFunc) {
	s.registerStream(name, MethodProducer, paramsSchema, outputSchema, nil, nil, doc, defaults, fn, decodeState)
}

// RegisterProducerWithHeader registers a producer method that sends a
// one-row header stream before its first data batch.
func (s *Server) RegisterProducerWithHeader(name string, paramsSchema, outputSchema, headerSchema *arrow.Schema, doc string, defaults map[string]string, fn StreamHandler, decodeState DecodeStateFunc) {
	s.registerStream(name, MethodProducer, paramsSchema, outputSchema, nil, headerSchema, doc, defaults, fn, decodeState)
}

// RegisterExchange registers a bidirectional lockstep streaming method.
func (s *Server) RegisterExchange(name string, paramsSchema, outputSchema, inputSchema *arrow.Schema, doc string, defaults map[string]string, fn StreamHandler, decodeState DecodeStateFunc) {
	s.registerStream(name, MethodExchange, paramsSchema, outputSchema, inputSchema, nil, doc, defaults, fn, decodeState)
}

// RegisterExchangeWithHeader registers an exchange method that sends a
// one-row header stream before the lockstep loop begins.
func (s *Server) RegisterExchangeWithHeader(name string, paramsSchema, outputSchema, inputSchema, headerSchema *arrow.Schema, doc string, defaults map[string]string, fn StreamHandler, decodeState DecodeStateFunc) {
	s.registerStream(name, MethodExchange, paramsSchema, outputSchema, inputSchema, headerSchema, doc, defaults, fn, decodeState)
}

func (s *Server) registerStream(name string, t MethodType, paramsSchema, outputSchema, inputSchema, headerSchema *arrow.Schema, doc string, defaults map[string]string, fn StreamHandler, decodeState DecodeStateFunc) {
	if outputSchema == nil {
		panic(fmt.Sprintf("colrpc: registering %q: outputSchema must not be nil", name))
	}
	if t == MethodExchange && inputSchema == nil {
		panic(fmt.Sprintf("colrpc: registering %q: inputSchema must not be nil", name))
	}
	s.register(name, &methodInfo{
		Type:          t,
		Doc:           doc,
		ParamsSchema:  emptySchemaIfNil(paramsSchema),
		ResultSchema:  arrow.NewSchema(nil, nil),
		OutputSchema:  outputSchema,
		InputSchema:   inputSchema,
		HeaderSchema:  headerSchema,
		ParamDefaults: defaults,
		StreamFn:      fn,
		DecodeState:   decodeState,
	})
}

func emptySchemaIfNil(schema *arrow.Schema) *arrow.Schema {
	if schema == nil {
		return arrow.NewSchema(nil, nil)
	}
	return schema
}

func (s *Server) availableMethods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
