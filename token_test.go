// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestPackUnpackTokenRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	state := []byte(`{"count":3}`)
	outSchema := []byte("out-schema-bytes")
	inSchema := []byte("in-schema-bytes")

	encoded := packToken(key, time.Now(), state, outSchema, inSchema)

	tok, err := unpackToken(key, encoded, time.Hour)
	if err != nil {
		t.Fatalf("unpackToken: %v", err)
	}
	if !bytes.Equal(tok.State, state) {
		t.Errorf("State = %q, want %q", tok.State, state)
	}
	if !bytes.Equal(tok.OutputSchemaIPC, outSchema) {
		t.Errorf("OutputSchemaIPC = %q, want %q", tok.OutputSchemaIPC, outSchema)
	}
	if !bytes.Equal(tok.InputSchemaIPC, inSchema) {
		t.Errorf("InputSchemaIPC = %q, want %q", tok.InputSchemaIPC, inSchema)
	}
}

func TestUnpackTokenRejectsTamperedSignature(t *testing.T) {
	key := []byte("0123456789abcdef")
	encoded := packToken(key, time.Now(), []byte("state"), []byte("out"), []byte("in"))

	tampered := encoded[:len(encoded)-2] + "AA"
	_, err := unpackToken(key, tampered, time.Hour)
	if err == nil {
		t.Fatal("expected signature verification to fail")
	}
	var rpcErr *RpcError
	if !errors.As(err, &rpcErr) || rpcErr.Type != "ProtocolError" {
		t.Errorf("got %v, want a ProtocolError", err)
	}
}

func TestUnpackTokenRejectsWrongKey(t *testing.T) {
	encoded := packToken([]byte("0123456789abcdef"), time.Now(), []byte("state"), nil, nil)
	_, err := unpackToken([]byte("fedcba9876543210"), encoded, time.Hour)
	if err == nil {
		t.Fatal("expected verification with a different key to fail")
	}
}

func TestUnpackTokenRejectsExpired(t *testing.T) {
	key := []byte("0123456789abcdef")
	old := time.Now().Add(-2 * time.Hour)
	encoded := packToken(key, old, []byte("state"), nil, nil)

	_, err := unpackToken(key, encoded, time.Hour)
	if err == nil {
		t.Fatal("expected an expired token to be rejected")
	}
	var rpcErr *RpcError
	if !errors.As(err, &rpcErr) || rpcErr.Type != "ProtocolError" {
		t.Errorf("got %v, want a ProtocolError", err)
	}
}

func TestUnpackTokenZeroTTLNeverExpires(t *testing.T) {
	key := []byte("0123456789abcdef")
	old := time.Now().Add(-365 * 24 * time.Hour)
	encoded := packToken(key, old, []byte("state"), nil, nil)

	if _, err := unpackToken(key, encoded, 0); err != nil {
		t.Fatalf("unpackToken with zero TTL: %v", err)
	}
}

func TestUnpackTokenRejectsTruncated(t *testing.T) {
	if _, err := unpackToken([]byte("0123456789abcdef"), "AA", time.Hour); err == nil {
		t.Fatal("expected a too-short token to be rejected")
	}
}
