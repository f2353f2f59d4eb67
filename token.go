// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// stateToken is the decoded form of a signed continuation token. The HTTP
// transport hands the encoded, base64 form of this to a stateless client
// so a later request can resume a producer/exchange stream without the
// server holding any per-client memory between calls.
type stateToken struct {
	CreatedAt         time.Time
	State             []byte
	OutputSchemaIPC   []byte
	InputSchemaIPC    []byte
}

// packToken lays out a token exactly as: 1-byte version (2) + 8-byte
// little-endian unix seconds + three length-prefixed blobs (state, output
// schema, input schema) + a trailing 32-byte HMAC-SHA256 over everything
// before it. The result is base64-encoded for safe transport in an HTTP
// header or metadata string value.
func packToken(signingKey []byte, createdAt time.Time, state, outputSchemaIPC, inputSchemaIPC []byte) string {
	size := 1 + 8 + lenPrefixedSize(state) + lenPrefixedSize(outputSchemaIPC) + lenPrefixedSize(inputSchemaIPC)
	buf := make([]byte, size, size+HMACSize)

	buf[0] = StateTokenVersion
	binary.LittleEndian.PutUint64(buf[1:9], uint64(createdAt.Unix()))

	off := 9
	off = putLenPrefixed(buf, off, state)
	off = putLenPrefixed(buf, off, outputSchemaIPC)
	_ = putLenPrefixed(buf, off, inputSchemaIPC)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(buf)
	buf = append(buf, mac.Sum(nil)...)

	return base64.RawURLEncoding.EncodeToString(buf)
}

// unpackToken verifies the HMAC before touching any other field, then
// parses the packed layout packToken produced. A tampered or expired
// token is reported as a *RpcError with Type "ProtocolError".
func unpackToken(signingKey []byte, encoded string, ttl time.Duration) (*stateToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &RpcError{Type: "ProtocolError", Message: "malformed state token encoding"}
	}
	if len(raw) < MinTokenSize {
		return nil, &RpcError{Type: "ProtocolError", Message: "state token too short"}
	}

	body := raw[:len(raw)-HMACSize]
	receivedMAC := raw[len(raw)-HMACSize:]

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(body)
	expectedMAC := mac.Sum(nil)
	if !hmac.Equal(receivedMAC, expectedMAC) {
		return nil, &RpcError{Type: "ProtocolError", Message: "HMAC verification failed"}
	}

	if body[0] != StateTokenVersion {
		return nil, &RpcError{Type: "VersionError", Message: fmt.Sprintf("unsupported state token version %d", body[0])}
	}

	createdAtUnix := int64(binary.LittleEndian.Uint64(body[1:9]))
	createdAt := time.Unix(createdAtUnix, 0)

	off := 9
	state, off, err := readLenPrefixed(body, off)
	if err != nil {
		return nil, err
	}
	outputSchemaIPC, off, err := readLenPrefixed(body, off)
	if err != nil {
		return nil, err
	}
	inputSchemaIPC, off, err := readLenPrefixed(body, off)
	if err != nil {
		return nil, err
	}
	if off != len(body) {
		return nil, &RpcError{Type: "ProtocolError", Message: "trailing bytes after state token fields"}
	}

	if ttl > 0 {
		if age := time.Since(createdAt); age > ttl {
			return nil, &RpcError{Type: "ProtocolError", Message: fmt.Sprintf("state token expired (age %s, ttl %s)", age, ttl)}
		}
	}

	return &stateToken{
		CreatedAt:       createdAt,
		State:           state,
		OutputSchemaIPC: outputSchemaIPC,
		InputSchemaIPC:  inputSchemaIPC,
	}, nil
}

func lenPrefixedSize(b []byte) int { return 4 + len(b) }

func putLenPrefixed(buf []byte, off int, b []byte) int {
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(b)))
	off += 4
	copy(buf[off:], b)
	return off + len(b)
}

func readLenPrefixed(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, 0, &RpcError{Type: "ProtocolError", Message: "state token truncated reading length prefix"}
	}
	n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if n < 0 || off+n > len(buf) {
		return nil, 0, &RpcError{Type: "ProtocolError", Message: "state token truncated reading field"}
	}
	return buf[off : off+n], off + n, nil
}
