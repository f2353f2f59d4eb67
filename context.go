// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import "context"

// CallContext is passed to every handler invocation. It carries the
// standard context.Context for cancellation/deadlines plus protocol-level
// identifiers and an accumulator for out-of-band log messages the handler
// wants delivered to the caller alongside its data.
type CallContext struct {
	Ctx       context.Context
	RequestID string
	ServerID  string
	Method    string

	// LogLevel is the minimum severity that will actually be flushed to the
	// wire; messages below this priority are dropped by ClientLog.
	LogLevel LogLevel

	logs []LogMessage
}

// ClientLog records a log message for delivery to the caller. Messages
// below the context's configured LogLevel are discarded immediately.
func (c *CallContext) ClientLog(level LogLevel, message string, extras ...KV) {
	if logLevelPriority(level) > logLevelPriority(c.LogLevel) {
		return
	}
	var extraMap map[string]string
	if len(extras) > 0 {
		extraMap = make(map[string]string, len(extras))
		for _, kv := range extras {
			extraMap[kv.Key] = kv.Value
		}
	}
	c.logs = append(c.logs, LogMessage{Level: level, Message: message, Extras: extraMap})
}

// drainLogs returns and clears the accumulated log messages.
func (c *CallContext) drainLogs() []LogMessage {
	if len(c.logs) == 0 {
		return nil
	}
	out := c.logs
	c.logs = nil
	return out
}

func newCallContext(ctx context.Context, requestID, serverID, method string, level LogLevel) *CallContext {
	return &CallContext{
		Ctx:       ctx,
		RequestID: requestID,
		ServerID:  serverID,
		Method:    method,
		LogLevel:  level,
	}
}
