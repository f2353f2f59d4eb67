// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/colrpc/colrpc"
)

// HttpClient drives the wire protocol over the stateless HTTP transport:
// every stream round trip carries an HMAC-signed continuation token
// instead of relying on server-side per-connection memory, so concurrent
// calls and streams on the same HttpClient never contend with each other
// the way PipeClient's single-flight lock does.
type HttpClient struct {
	httpClient *http.Client
	baseURL    string
	prefix     string
	logLevel   colrpc.LogLevel
	useZstd    bool
	seq        atomic.Uint64

	descMu    sync.Mutex
	descCache map[string]MethodDescriptor
}

// NewHttpClient targets the server listening at baseURL (e.g.
// "http://localhost:8080"), using the library's default "/rpc" route
// prefix and http.DefaultClient.
func NewHttpClient(baseURL string) *HttpClient {
	return &HttpClient{
		httpClient: http.DefaultClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     "/rpc",
		logLevel:   colrpc.LogInfo,
	}
}

// NewHttpClientWithTransport targets baseURL using a caller-supplied
// *http.Client, e.g. one with a custom Transport or Timeout.
func NewHttpClientWithTransport(baseURL string, httpClient *http.Client) *HttpClient {
	c := NewHttpClient(baseURL)
	c.httpClient = httpClient
	return c
}

// SetLogLevel sets the minimum severity of ClientLog messages requested on
// this client's calls and streams.
func (c *HttpClient) SetLogLevel(level colrpc.LogLevel) { c.logLevel = level }

// EnableZstd compresses request bodies with zstd, matching HttpServer's
// optional zstd support. Every request advertises Accept-Encoding: zstd,
// identity whether or not this is enabled.
func (c *HttpClient) EnableZstd(enabled bool) { c.useZstd = enabled }

// Close is a no-op; the underlying *http.Client manages its own
// connection pool.
func (c *HttpClient) Close() error { return nil }

func (c *HttpClient) newRequestID() string { return strconv.FormatUint(c.seq.Add(1), 10) }

func (c *HttpClient) url(path string) string { return c.baseURL + c.prefix + path }

// post sends body to path, transparently zstd-compressing the request and
// decompressing a zstd response, and returns the decoded response bytes.
func (c *HttpClient) post(ctx context.Context, path string, body []byte) ([]byte, http.Header, error) {
	reqBody := io.Reader(bytes.NewReader(body))
	encoding := ""
	if c.useZstd {
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err == nil {
			if _, err := enc.Write(body); err == nil && enc.Close() == nil {
				reqBody = &buf
				encoding = "zstd"
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("building request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", colrpc.ArrowContentType)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	req.Header.Set("Accept-Encoding", "zstd, identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("posting to %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response from %s: %w", path, err)
	}
	if resp.Header.Get("Content-Encoding") == "zstd" {
		dec, derr := zstd.NewReader(bytes.NewReader(respBody))
		if derr != nil {
			return nil, nil, fmt.Errorf("invalid zstd response from %s: %w", path, derr)
		}
		respBody, err = io.ReadAll(dec)
		dec.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("decompressing response from %s: %w", path, err)
		}
	}
	if resp.StatusCode >= 300 {
		if _, _, derr := readDataRound(bytes.NewReader(respBody)); derr != nil {
			return nil, resp.Header, derr
		}
		return nil, resp.Header, fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return respBody, resp.Header, nil
}

// Call invokes a unary method and returns its single result row.
func (c *HttpClient) Call(ctx context.Context, method string, params colrpc.Row) (colrpc.Row, error) {
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
func (c *HttpClient) Describe(ctx context.Context) ([]MethodDescriptor, error) {
	rows, err := c.callRaw(ctx, colrpc.ReservedDescribeMethod, colrpc.Row{})
	if err != nil {
		return nil, err
	}
	return parseDescribeRows(rows)
}

func (c *HttpClient) callRaw(ctx context.Context, method string, params colrpc.Row) ([]colrpc.Row, error) {
	schema := inferSchema(params)
	var buf bytes.Buffer
	if err := colrpc.WriteRequest(&buf, schema, params, method, c.newRequestID(), c.logLevel); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	respBody, _, err := c.post(ctx, c.url("/"+method), buf.Bytes())
	if err != nil {
		return nil, err
	}

	rows, _, err := readDataRound(bytes.NewReader(respBody))
	return rows, err
}

// methodDescriptor resolves a method's descriptor, fetching and caching
// the server's full registry on first use. A stream needs to know ahead
// of time whether its method declares a header, since the header (if
// any) is a separate IPC stream concatenated before the init round's
// data/token stream in the same response body.
func (c *HttpClient) methodDescriptor(ctx context.Context, method string) (MethodDescriptor, error) {
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

// Stream opens a producer or exchange method over HTTP and returns a
// Session. The session itself carries no open connection: every
// subsequent round is its own independent HTTP request authenticated by
// the continuation token the previous round returned.
func (c *HttpClient) Stream(ctx context.Context, method string, params colrpc.Row) (*Session, error) {
	desc, err := c.methodDescriptor(ctx, method)
	if err != nil {
		return nil, err
	}

	schema := inferSchema(params)
	var buf bytes.Buffer
	if err := colrpc.WriteRequest(&buf, schema, params, method, c.newRequestID(), c.logLevel); err != nil {
		return nil, fmt.Errorf("encoding stream init request: %w", err)
	}

	respBody, _, err := c.post(ctx, c.url("/"+method+"/init"), buf.Bytes())
	if err != nil {
		return nil, err
	}
	br := bytes.NewReader(respBody)

	var headerRow colrpc.Row
	if desc.HasHeader {
		hdrRows, _, err := readDataRound(br)
		if err != nil {
			return nil, err
		}
		if len(hdrRows) > 0 {
			headerRow = hdrRows[0]
		}
	}

	rows, token, err := readDataRound(br)
	if err != nil {
		return nil, err
	}

	sess := &httpSession{
		client:     c,
		method:     method,
		headerRow:  headerRow,
		isProducer: desc.Type == colrpc.MethodProducer,
		token:      token,
	}
	if sess.isProducer {
		sess.pending = rows
		sess.pendingValid = true
	}
	return &Session{backend: sess}, nil
}
