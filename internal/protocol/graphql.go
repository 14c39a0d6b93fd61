package protocol

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// graphqlRequest is the wire shape of a GraphQL-over-HTTP POST body.
type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// ParseGraphQL validates query as a GraphQL document and returns the name
// of the first named operation, if any. A parse failure is returned as an
// error, which ToCanonical wraps as ErrBadRequest.
func ParseGraphQL(query string) (operationName string, err error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return "", err
	}
	for _, op := range doc.Operations {
		if op.Name != "" {
			return op.Name, nil
		}
	}
	return "", nil
}
