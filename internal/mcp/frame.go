// Package mcp implements the client side of the tool-invocation protocol:
// newline-delimited JSON-RPC frames carried over a child process's standard
// input/output pipes, a strictly serial transport on top of them, and a
// session client exposing the tool and resource namespaces.
package mcp

import (
	"bytes"
	"encoding/json"

	"github.com/vietddude/lens/internal/core/fault"
)

const (
	// JSONRPCVersion is the fixed jsonrpc field value on every frame.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is sent during the initialize handshake.
	ProtocolVersion = "2024-11-05"
)

// Request is one outbound frame. IDs increase monotonically per transport
// and are never reused.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is a one-way frame that expects no response.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is one inbound frame, matched to its request by ID. Exactly one
// of Result and Error is set.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the remote error payload of a failed response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// EncodeFrame serializes a request as a single JSON object terminated by one
// newline. Params that cannot round-trip through JSON (non-finite floats,
// cycles) fail with an encoding-kind error.
func EncodeFrame(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fault.Encoding("request params not JSON-serializable",
			fault.WithCause(err), fault.WithDetail("method", req.Method))
	}
	return append(data, '\n'), nil
}

// DecodeFrame parses one response line. Invalid JSON, a missing id, or a
// frame carrying both result and error are protocol violations; the channel
// must be treated as broken.
func DecodeFrame(line []byte) (Response, error) {
	line = bytes.TrimSpace(line)

	var raw struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *ErrorObject    `json:"error"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Response{}, fault.Protocol("response line is not valid JSON",
			fault.WithCause(err), fault.WithDetail("line", truncateLine(line)))
	}
	if raw.ID == nil {
		return Response{}, fault.Protocol("response frame has no id",
			fault.WithDetail("line", truncateLine(line)))
	}
	if len(raw.Result) > 0 && raw.Error != nil {
		return Response{}, fault.Protocol("response carries both result and error",
			fault.WithDetail("id", *raw.ID))
	}
	return Response{ID: *raw.ID, Result: raw.Result, Error: raw.Error}, nil
}

func truncateLine(line []byte) string {
	const max = 120
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
