// Package b64url implements the unpadded base64url text encoding used by
// compact JWS tokens and JWK key material.
package b64url

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedEncoding is returned when input is not valid base64url text.
var ErrMalformedEncoding = errors.New("malformed base64url encoding")

// Pad appends '=' characters until len(s) is a multiple of 4.
func Pad(s string) string {
	if r := len(s) % 4; r != 0 {
		return s + strings.Repeat("=", 4-r)
	}
	return s
}

// Decode restores padding and decodes s with the URL-safe alphabet.
// Characters outside the alphabet (including whitespace, which the stdlib
// decoder would silently skip) are rejected.
func Decode(s string) ([]byte, error) {
	body := strings.TrimRight(s, "=")
	if len(s)-len(body) > 2 {
		return nil, fmt.Errorf("%w: too much padding", ErrMalformedEncoding)
	}
	for i := 0; i < len(body); i++ {
		if !isURLAlphabet(body[i]) {
			return nil, fmt.Errorf("%w: invalid character %q at offset %d", ErrMalformedEncoding, body[i], i)
		}
	}
	out, err := base64.URLEncoding.DecodeString(Pad(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return out, nil
}

// Encode returns the unpadded base64url encoding of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func isURLAlphabet(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_'
}
