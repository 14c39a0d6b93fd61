package protocol

import (
	"encoding/base64"

	"capnproto.org/go/capnp/v3"
)

// ValidateCapnp parses body as a framed Cap'n Proto message under default
// reader options, returning an error if the framing or segment table is
// malformed. Wire-format validation is delegated entirely to the capnp
// library rather than a hand-rolled framing check.
func ValidateCapnp(body []byte) error {
	_, err := capnp.Unmarshal(body)
	return err
}

// EncodeCapnpParams wraps a raw Cap'n Proto body as the canonical
// request's params object: `{ "capnp": <base64url of body> }`.
func EncodeCapnpParams(body []byte) map[string]any {
	return map[string]any{"capnp": base64.URLEncoding.EncodeToString(body)}
}

// DecodeCapnpParams reverses EncodeCapnpParams for the denormalize path.
func DecodeCapnpParams(encoded string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(encoded)
}
