package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrBadRequest is wrapped by every parse or validation failure of
// ToCanonical and FromCanonical. ErrBodyRead carries the message for a
// request body that could not be read; ToCanonical never returns it.
var (
	ErrBadRequest = errors.New("Bad Request")
	ErrBodyRead   = errors.New("Failed to read request body")
)

// ToCanonical converts an inbound request body, already classified by
// Detect, into the gateway's canonical JSON-RPC envelope plus the sidecar
// Context needed to denormalize the eventual response.
func ToCanonical(tag Tag, body []byte, header http.Header) (Context, CanonicalRequest, error) {
	switch tag {
	case JsonRpc, McpStreamableHttp:
		var req CanonicalRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return Context{}, CanonicalRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		if req.JSONRPC == "" {
			req.JSONRPC = "2.0"
		}
		ctx := Context{Protocol: tag, OriginalID: req.ID}
		if tag == McpStreamableHttp {
			ctx.MCPHeaders = mcpHeaders(header)
		}
		return ctx, req, nil

	case GraphQL:
		query := string(body)
		var gq graphqlRequest
		if json.Unmarshal(body, &gq) == nil && gq.Query != "" {
			query = gq.Query
		}
		opName, err := ParseGraphQL(query)
		if err != nil {
			return Context{}, CanonicalRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		params := map[string]any{"query": query}
		if gq.OperationName != "" {
			params["operationName"] = gq.OperationName
			opName = gq.OperationName
		}
		if len(gq.Variables) > 0 {
			params["variables"] = gq.Variables
		}
		rawParams, err := json.Marshal(params)
		if err != nil {
			return Context{}, CanonicalRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		id := uuid.NewString()
		return Context{Protocol: GraphQL, GraphQLOperationName: opName},
			CanonicalRequest{JSONRPC: "2.0", ID: id, Method: "graphql/execute", Params: rawParams},
			nil

	case Capnp:
		if err := ValidateCapnp(body); err != nil {
			return Context{}, CanonicalRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		rawParams, err := json.Marshal(EncodeCapnpParams(body))
		if err != nil {
			return Context{}, CanonicalRequest{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		id := uuid.NewString()
		return Context{Protocol: Capnp},
			CanonicalRequest{JSONRPC: "2.0", ID: id, Method: "capnp/execute", Params: rawParams},
			nil
	}

	return Context{}, CanonicalRequest{}, fmt.Errorf("%w: unrecognized protocol", ErrBadRequest)
}

// FromCanonical renders a CanonicalResponse back into the caller's original
// wire format and the Content-Type header it should be served with.
func FromCanonical(ctx Context, resp CanonicalResponse) (contentType string, body []byte, err error) {
	switch ctx.Protocol {
	case JsonRpc, McpStreamableHttp:
		resp.ID = ctx.OriginalID
		body, err = json.Marshal(resp)
		return "application/json", body, err

	case GraphQL:
		out := map[string]any{}
		if resp.Error != nil {
			out["errors"] = []map[string]any{{"message": resp.Error.Message}}
		} else {
			var data any
			if len(resp.Result) > 0 {
				if err := json.Unmarshal(resp.Result, &data); err != nil {
					return "", nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
				}
			}
			out["data"] = data
		}
		body, err = json.Marshal(out)
		return "application/json", body, err

	case Capnp:
		if resp.Error != nil {
			return "", nil, fmt.Errorf("capnp/execute failed: %s", resp.Error.Message)
		}
		var wrapped struct {
			Capnp string `json:"capnp"`
		}
		if err := json.Unmarshal(resp.Result, &wrapped); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		raw, err := DecodeCapnpParams(wrapped.Capnp)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return "application/octet-stream", raw, nil
	}

	return "", nil, fmt.Errorf("%w: unrecognized protocol", ErrBadRequest)
}

func mcpHeaders(header http.Header) map[string]string {
	out := make(map[string]string, 2)
	if v := header.Get("x-mcp-version"); v != "" {
		out["x-mcp-version"] = v
	}
	if v := header.Get("x-mcp-session-id"); v != "" {
		out["x-mcp-session-id"] = v
	}
	return out
}
