package protocol

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Detect identifies a client's wire protocol: path and header shortcuts
// take precedence (MCP Streamable HTTP never needs a body read), then
// content-type, then a best-effort body sniff.
//
// body may be nil when called before the request body is read; in that
// case only the header/path/content-type rules apply and the caller
// falls back to reading the body before calling DetectFromBody.
func Detect(path string, header http.Header, body []byte) Tag {
	if strings.HasPrefix(path, "/mcp") && (len(path) == len("/mcp") || path[len("/mcp")] == '/') {
		return McpStreamableHttp
	}
	if header.Get("x-mcp-version") != "" || header.Get("x-mcp-session-id") != "" {
		return McpStreamableHttp
	}

	contentType := header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/graphql"):
		return GraphQL
	case strings.Contains(contentType, "application/capnproto"), strings.Contains(contentType, "application/capn-proto"):
		return Capnp
	}

	if body == nil {
		return Unknown
	}
	return DetectFromBody(contentType, body)
}

// DetectFromBody applies the body-sniffing rules once bytes are available.
func DetectFromBody(contentType string, body []byte) Tag {
	if strings.Contains(contentType, "application/json") || contentType == "" {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(body, &probe); err == nil {
			if _, ok := probe["jsonrpc"]; ok {
				return JsonRpc
			}
		}
	}
	if looksLikeGraphQL(body) {
		return GraphQL
	}
	if ValidateCapnp(body) == nil {
		return Capnp
	}
	return Unknown
}

// looksLikeGraphQL is a lightweight document sniff: a GraphQL query/mutation
// body is non-JSON text that opens with a known operation keyword. A body
// opening with "{" or "[" is never sniffed as GraphQL, so a bare selection
// set is not recognized here. Full parsing is delegated to ParseGraphQL.
func looksLikeGraphQL(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return false
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return false // valid JSON shape, handled by the jsonrpc/body-sniff path instead
	}
	for _, kw := range []string{"query", "mutation", "subscription", "fragment", "{"} {
		if strings.HasPrefix(trimmed, kw) {
			return true
		}
	}
	return false
}
