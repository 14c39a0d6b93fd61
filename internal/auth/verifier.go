// Package auth implements bearer-JWT verification using
// github.com/lestrrat-go/jwx/v2 to parse and validate tokens. Bearer
// tokens are HMAC-signed with a configured shared secret, so Verifier
// uses jwt.WithKey(jwa.HS256, secret) rather than fetching a remote JWKS.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrUnauthorized is returned for any malformed header, invalid signature,
// expired token, or missing subject claim. The pipeline maps it uniformly
// to HTTP 401 with the static body "Unauthorized".
var ErrUnauthorized = errors.New("unauthorized")

// Claims is the subset of JWT claims the gateway cares about.
type Claims struct {
	Subject string
}

// Verifier validates bearer tokens against a configured HMAC secret.
type Verifier struct {
	secret []byte
	expiry time.Duration
}

// New builds a Verifier for the given secret. expiry is stored on the
// Verifier but Verify does not check tokens against it; a token's lifetime
// is bounded only by its own exp claim.
func New(secret string, expiry time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), expiry: expiry}
}

// Verify accepts only the "Bearer <token>" form of an Authorization header
// value. It validates the signature and standard time-based claims, then
// requires a non-empty "sub" claim.
func (v *Verifier) Verify(authorizationHeader string) (Claims, error) {
	token, ok := parseBearer(authorizationHeader)
	if !ok {
		return Claims{}, ErrUnauthorized
	}

	parsed, err := jwt.Parse(
		[]byte(token),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
	)
	if err != nil {
		return Claims{}, ErrUnauthorized
	}

	sub := parsed.Subject()
	if strings.TrimSpace(sub) == "" {
		return Claims{}, ErrUnauthorized
	}

	return Claims{Subject: sub}, nil
}

func parseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
