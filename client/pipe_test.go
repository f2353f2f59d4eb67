// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/colrpc/colrpc"
)

// duplexEnd wires together one end of two independent io.Pipe byte
// channels so each side of a colrpc pipe transport has a single
// io.ReadWriteCloser, exactly as a client talking to a subprocess's
// stdin/stdout would.
type duplexEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d *duplexEnd) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplexEnd) Write(p []byte) (int, error) { return d.w.Write(p) }
func (d *duplexEnd) Close() error {
	_ = d.r.Close()
	return d.w.Close()
}

func newDuplexPair() (clientEnd, serverEnd *duplexEnd) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	return &duplexEnd{r: s2cR, w: c2sW}, &duplexEnd{r: c2sR, w: s2cW}
}

type counterState struct {
	Count   int
	Current int
}

func (s *counterState) Produce(_ context.Context, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	if s.Current >= s.Count {
		return out.Finish()
	}
	idx := int64(s.Current)
	s.Current++
	return out.EmitRows([]colrpc.Row{{"i": idx}})
}

func (s *counterState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeCounterState(data []byte) (any, error) {
	s := &counterState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

type scaleState struct {
	Factor float64
}

func (s *scaleState) Exchange(_ context.Context, input arrow.Record, out *colrpc.OutputCollector, _ *colrpc.CallContext) error {
	rows, err := colrpc.BatchToRows(input)
	if err != nil {
		return err
	}
	outRows := make([]colrpc.Row, len(rows))
	for i, r := range rows {
		v, err := colrpc.ToFloat64(r["value"])
		if err != nil {
			return err
		}
		outRows[i] = colrpc.Row{"value": v * s.Factor}
	}
	return out.EmitRows(outRows)
}

func (s *scaleState) MarshalState() ([]byte, error) { return json.Marshal(s) }

func decodeScaleState(data []byte) (any, error) {
	s := &scaleState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func newTestServer() *colrpc.Server {
	s := colrpc.NewServer()

	addSchema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Float64},
		{Name: "b", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	addResultSchema := arrow.NewSchema([]arrow.Field{
		{Name: "result", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	s.RegisterUnary("add", addSchema, addResultSchema, "adds two floats", nil,
		func(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (colrpc.Row, error) {
			a, err := colrpc.ToFloat64(p["a"])
			if err != nil {
				return nil, err
			}
			b, err := colrpc.ToFloat64(p["b"])
			if err != nil {
				return nil, err
			}
			return colrpc.Row{"result": a + b}, nil
		})

	countSchema := arrow.NewSchema([]arrow.Field{
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	counterOutputSchema := arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	s.RegisterProducer("count_up", countSchema, counterOutputSchema, "emits count rows", nil,
		func(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
			n, err := colrpc.ToInt64(p["count"])
			if err != nil {
				return nil, err
			}
			return &colrpc.StreamResult{OutputSchema: counterOutputSchema, State: &counterState{Count: int(n)}}, nil
		}, decodeCounterState)

	scaleParamsSchema := arrow.NewSchema([]arrow.Field{
		{Name: "factor", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	scaleSchema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	s.RegisterExchange("scale", scaleParamsSchema, scaleSchema, scaleSchema, "scales each input by factor", nil,
		func(_ context.Context, _ *colrpc.CallContext, p colrpc.Row) (*colrpc.StreamResult, error) {
			f, err := colrpc.ToFloat64(p["factor"])
			if err != nil {
				return nil, err
			}
			return &colrpc.StreamResult{OutputSchema: scaleSchema, State: &scaleState{Factor: f}}, nil
		}, decodeScaleState)

	return s
}

func startTestServer(t *testing.T) *duplexEnd {
	t.Helper()
	server := newTestServer()
	clientEnd, serverEnd := newDuplexPair()

	done := make(chan struct{})
	go func() {
		server.Serve(serverEnd, serverEnd)
		close(done)
	}()
	t.Cleanup(func() {
		_ = clientEnd.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})
	return clientEnd
}

func TestPipeClientCall(t *testing.T) {
	clientEnd := startTestServer(t)
	c := NewPipeClient(clientEnd)
	defer c.Close()

	ctx := context.Background()
	result, err := c.Call(ctx, "add", colrpc.Row{"a": 2.0, "b": 3.0})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["result"] != 5.0 {
		t.Errorf("result = %v, want 5.0", result["result"])
	}

	// A second call over the same client must succeed, proving the
	// single-flight lock was released after the first.
	result2, err := c.Call(ctx, "add", colrpc.Row{"a": 10.0, "b": -1.0})
	if err != nil {
		t.Fatalf("second Call: %v", err)
	}
	if result2["result"] != 9.0 {
		t.Errorf("result2 = %v, want 9.0", result2["result"])
	}
}

func TestPipeClientDescribe(t *testing.T) {
	clientEnd := startTestServer(t)
	c := NewPipeClient(clientEnd)
	defer c.Close()

	descs, err := c.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	names := map[string]MethodDescriptor{}
	for _, d := range descs {
		names[d.Name] = d
	}
	if _, ok := names["add"]; !ok {
		t.Error("expected \"add\" in describe results")
	}
	if d, ok := names["count_up"]; !ok || d.Type != colrpc.MethodProducer {
		t.Errorf("count_up descriptor = %+v, want a producer", d)
	}
	if d, ok := names["scale"]; !ok || d.Type != colrpc.MethodExchange {
		t.Errorf("scale descriptor = %+v, want an exchange", d)
	}
}

func TestPipeClientProducerStream(t *testing.T) {
	clientEnd := startTestServer(t)
	c := NewPipeClient(clientEnd)
	defer c.Close()

	ctx := context.Background()
	sess, err := c.Stream(ctx, "count_up", colrpc.Row{"count": int64(3)})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var got []int64
	for {
		rows, done, err := sess.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		for _, r := range rows {
			v, _ := colrpc.ToInt64(r["i"])
			got = append(got, v)
		}
		if done {
			break
		}
	}

	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("got %v, want [0 1 2]", got)
	}

	// The single-flight lock must be free again after the stream finished.
	if _, err := c.Call(ctx, "add", colrpc.Row{"a": 1.0, "b": 1.0}); err != nil {
		t.Fatalf("Call after stream finished: %v", err)
	}
}

func TestPipeClientExchangeStream(t *testing.T) {
	clientEnd := startTestServer(t)
	c := NewPipeClient(clientEnd)
	defer c.Close()

	ctx := context.Background()
	sess, err := c.Stream(ctx, "scale", colrpc.Row{"factor": 2.0})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	out, err := sess.Exchange(ctx, []colrpc.Row{{"value": 3.0}})
	if err != nil {
		t.Fatalf("Exchange round 1: %v", err)
	}
	if len(out) != 1 || out[0]["value"] != 6.0 {
		t.Errorf("round 1 = %+v, want [{value: 6}]", out)
	}

	out2, err := sess.Exchange(ctx, []colrpc.Row{{"value": 10.0}})
	if err != nil {
		t.Fatalf("Exchange round 2: %v", err)
	}
	if len(out2) != 1 || out2[0]["value"] != 20.0 {
		t.Errorf("round 2 = %+v, want [{value: 20}]", out2)
	}

	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The single-flight lock must be free again after Close's background
	// drain completes.
	if _, err := c.Call(ctx, "add", colrpc.Row{"a": 1.0, "b": 1.0}); err != nil {
		t.Fatalf("Call after session close: %v", err)
	}
}

func TestPipeClientExchangeRejectsSchemaChange(t *testing.T) {
	clientEnd := startTestServer(t)
	c := NewPipeClient(clientEnd)
	defer c.Close()

	ctx := context.Background()
	sess, err := c.Stream(ctx, "scale", colrpc.Row{"factor": 2.0})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if _, err := sess.Exchange(ctx, []colrpc.Row{{"value": 3.0}}); err != nil {
		t.Fatalf("Exchange round 1: %v", err)
	}

	// Round 2 sends a batch with a different field name than round 1
	// locked in. This must fail client-side, without touching the wire.
	_, err = sess.Exchange(ctx, []colrpc.Row{{"other": 3.0}})
	if err == nil {
		t.Fatal("expected a schema-changed exchange round to fail")
	}
	var rpcErr *colrpc.RpcError
	if !errors.As(err, &rpcErr) || rpcErr.Type != "ProtocolError" {
		t.Errorf("got %v, want a ProtocolError", err)
	}

	// The session and single-flight lock are still usable: a same-schema
	// round after the rejected one must succeed normally.
	out, err := sess.Exchange(ctx, []colrpc.Row{{"value": 5.0}})
	if err != nil {
		t.Fatalf("Exchange round 3: %v", err)
	}
	if len(out) != 1 || out[0]["value"] != 10.0 {
		t.Errorf("round 3 = %+v, want [{value: 10}]", out)
	}

	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
