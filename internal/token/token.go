// Package token parses compact three-segment signed tokens (JWS compact
// serialization) while keeping the exact signed bytes.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aspect-build/attestproof/internal/b64url"
)

// MaxTokenLen bounds the raw token text accepted by Parse.
const MaxTokenLen = 64 << 10

// ErrMalformedToken is returned for structural token errors.
var ErrMalformedToken = errors.New("malformed token")

// Token is a parsed compact token.
//
// SignedMessage is the literal "<header>.<payload>" text of the input and is
// what the issuer signed. It is never rebuilt from decoded segments.
type Token struct {
	RawHeader    string
	RawPayload   string
	RawSignature string

	HeaderJSON    []byte
	PayloadJSON   []byte
	Signature     []byte
	SignedMessage []byte
}

// Header is the typed view of the protected header.
type Header struct {
	Alg string `json:"alg"`
	JKU string `json:"jku"`
	KID string `json:"kid"`
	Typ string `json:"typ,omitempty"`
}

// Parse splits raw on '.' and decodes each segment. Exactly three segments
// are required.
func Parse(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > MaxTokenLen {
		return nil, fmt.Errorf("%w: token is %d bytes, limit %d", ErrMalformedToken, len(raw), MaxTokenLen)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerJSON, err := b64url.Decode(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode header segment: %w", err)
	}
	payloadJSON, err := b64url.Decode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload segment: %w", err)
	}
	sig, err := b64url.Decode(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode signature segment: %w", err)
	}

	if !isJSONObject(headerJSON) {
		return nil, fmt.Errorf("%w: header is not a JSON object", b64url.ErrMalformedEncoding)
	}
	if !isJSONObject(payloadJSON) {
		return nil, fmt.Errorf("%w: payload is not a JSON object", b64url.ErrMalformedEncoding)
	}

	// The signing input must keep the original encoded text byte for byte.
	msg := make([]byte, 0, len(parts[0])+1+len(parts[1]))
	msg = append(msg, parts[0]...)
	msg = append(msg, '.')
	msg = append(msg, parts[1]...)

	return &Token{
		RawHeader:     parts[0],
		RawPayload:    parts[1],
		RawSignature:  parts[2],
		HeaderJSON:    headerJSON,
		PayloadJSON:   payloadJSON,
		Signature:     sig,
		SignedMessage: msg,
	}, nil
}

// Header decodes the protected header and checks the fields needed to
// locate the signing key.
func (t *Token) Header() (Header, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(t.HeaderJSON, &fields); err != nil {
		return Header{}, fmt.Errorf("%w: %v", b64url.ErrMalformedEncoding, err)
	}

	var h Header
	var err error
	if h.Alg, err = headerString(fields, "alg"); err != nil {
		return Header{}, err
	}
	if h.JKU, err = headerString(fields, "jku"); err != nil {
		return Header{}, err
	}
	if h.KID, err = headerString(fields, "kid"); err != nil {
		return Header{}, err
	}
	if raw, ok := fields["typ"]; ok {
		if err := json.Unmarshal(raw, &h.Typ); err != nil {
			return Header{}, fmt.Errorf("%w: header typ is not a string", ErrMalformedToken)
		}
	}

	if h.Alg != "RS256" {
		return Header{}, fmt.Errorf("%w: unsupported alg %q (want RS256)", ErrMalformedToken, h.Alg)
	}
	return h, nil
}

func headerString(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%w: header %s is missing", ErrMalformedToken, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: header %s is not a string", ErrMalformedToken, name)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: header %s is empty", ErrMalformedToken, name)
	}
	return s, nil
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	if len(b) < 2 || b[0] != '{' {
		return false
	}
	return json.Valid(b)
}
