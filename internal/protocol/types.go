// Package protocol implements lossless conversion between the three
// supported client wire formats (GraphQL, JSON-RPC 2.0, Cap'n Proto)
// plus MCP Streamable HTTP and a single canonical JSON-RPC 2.0 envelope.
//
// Grounded on original_source/src/normalize.rs and the fuller
// packages/sweetmcp-pingora/src/normalize.rs, both of which detect the
// protocol from the raw body/content-type and build an MCP Request; this
// port keeps the same detect-then-convert shape but returns a
// ProtocolContext sidecar so the response trip can be denormalized back
// to the caller's original shape.
package protocol

import (
	"encoding/json"
)

// Tag identifies a client's wire protocol.
type Tag int

const (
	Unknown Tag = iota
	JsonRpc
	GraphQL
	Capnp
	McpStreamableHttp
)

func (t Tag) String() string {
	switch t {
	case JsonRpc:
		return "jsonrpc"
	case GraphQL:
		return "graphql"
	case Capnp:
		return "capnp"
	case McpStreamableHttp:
		return "mcp-streamable-http"
	default:
		return "unknown"
	}
}

// CanonicalRequest is the gateway-internal JSON-RPC 2.0 envelope every
// inbound protocol is converted into.
type CanonicalRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// CanonicalResponse is the gateway-internal JSON-RPC 2.0 response the
// bridge produces, before it is denormalized back to the caller's
// original protocol.
type CanonicalResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Context is the per-request sidecar produced by ToCanonical and consumed
// by FromCanonical. It is owned by the pipeline stack frame and dropped
// after the response is written.
type Context struct {
	Protocol             Tag
	OriginalID            any
	GraphQLOperationName string
	MCPHeaders            map[string]string
}
